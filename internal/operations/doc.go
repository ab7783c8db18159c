// Package operations tracks long-running work and fans its progress out to subscribers.
//
// A Reporter owns one operation and its state machine:
//
//	pending -> running <-> paused -> completed | failed | canceled
//
// Pending may also go straight to a terminal status. Terminal statuses have no
// outgoing edges and every later report is ignored.
//
// The Registry holds every live Reporter, forwards each update to its global
// callbacks (the WebSocket broadcast server and the persistence listener are
// two of them) and removes terminal operations after the retention period.
//
// Example usage:
//
//	registry := operations.NewRegistry(operations.NewConfig(), logger)
//	reporter, _ := registry.NewOperation(ctx, "import", "nightly import")
//	err := operations.Track(ctx, reporter, func(ctx context.Context, r *operations.Reporter) error {
//		for i, file := range files {
//			if r.ShouldCancel() {
//				return nil
//			}
//			process(file)
//			r.ReportProgress(ctx, float64(i+1)*100/float64(len(files)), operations.WithStep(file))
//		}
//		return nil
//	})
package operations
