package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sells-group/catalog-cli/internal/checkpoint"
	"github.com/sells-group/catalog-cli/internal/model"
)

// fakeCollab is a deterministic set of collaborators: every result is a
// pure function of its input.
type fakeCollab struct {
	resolveCalls atomic.Int32
	extractCalls atomic.Int32
	enrichCalls  atomic.Int32

	mu          sync.Mutex
	resolveErrs map[string]error
	noURL       map[string]bool
}

func newFakeCollab() *fakeCollab {
	return &fakeCollab{resolveErrs: map[string]error{}, noURL: map[string]bool{}}
}

func (f *fakeCollab) collaborators() Collaborators {
	return Collaborators{Resolver: f, Extractor: f, Enricher: f}
}

func (f *fakeCollab) ResolveURL(_ context.Context, brand, name string) (string, error) {
	f.resolveCalls.Add(1)
	f.mu.Lock()
	err, noURL := f.resolveErrs[name], f.noURL[name]
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	if noURL {
		return "", nil
	}
	return fmt.Sprintf("https://%s.com/%s", strings.ToLower(brand), strings.ReplaceAll(strings.ToLower(name), " ", "-")), nil
}

func (f *fakeCollab) ExtractImages(_ context.Context, pageURL, _ string) ([]string, error) {
	f.extractCalls.Add(1)
	return []string{pageURL + "/1.jpg", pageURL + "/2.jpg", pageURL + "/3.jpg", pageURL + "/4.jpg"}, nil
}

func (f *fakeCollab) EnrichContent(_ context.Context, g *model.ProductGroup) (*model.Content, error) {
	f.enrichCalls.Add(1)
	return &model.Content{
		Title:       g.BaseName,
		Description: fmt.Sprintf("%s by %s in %d variants.", g.BaseName, g.Brand, len(g.Variants)),
		Category:    "Hair Care",
		Tags:        []string{strings.ToLower(g.Brand), "hair-care"},
	}, nil
}

// cancelAfter cancels the run once the checkpoint for batch k is saved.
type cancelAfter struct {
	checkpoint.Store
	k      int
	cancel context.CancelFunc
}

func (c *cancelAfter) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if err := c.Store.Save(ctx, cp); err != nil {
		return err
	}
	if cp.BatchIndex == c.k {
		c.cancel()
	}
	return nil
}

// failAt fails to save the checkpoint of batch k.
type failAt struct {
	checkpoint.Store
	k int
}

func (f *failAt) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if cp.BatchIndex == f.k {
		return fmt.Errorf("disk full")
	}
	return f.Store.Save(ctx, cp)
}
