// Package harvest sweeps a numeric poem ID space and appends every poem it
// can fetch to a shared output sink.
//
// The ID space is cut into BatchCount batches of BatchSpan consecutive IDs.
// Batches are queued onto a bounded worker pool; each worker runs one batch
// at a time and walks its IDs in increasing order with one request in
// flight. ID 0 is never requested.
//
// Example usage:
//
//	out, _ := sink.Open(filepath.Join(dir, "poem.txt"))
//	defer out.Close()
//
//	h, err := harvest.New(souyunClient, out, harvest.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	summary := h.Run(ctx)
//
// Failures are per ID: a fetch error or a failed append is logged, counted in
// the Summary, and the batch moves on to the next ID. Nothing is retried at
// this level and nothing aborts the run except cancelling ctx.
package harvest
