package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/sig-0/p2pquotes/storage/types"
)

// JSON writes every run summary as indented JSON
type JSON struct {
	w   io.Writer
	mux sync.Mutex
}

// NewJSON creates a new JSON exporter over the writer
func NewJSON(w io.Writer) *JSON {
	return &JSON{
		w: w,
	}
}

func (j *JSON) Export(_ context.Context, s *types.RunSummary) error {
	j.mux.Lock()
	defer j.mux.Unlock()

	enc := json.NewEncoder(j.w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("unable to encode run summary: %w", err)
	}

	return nil
}
