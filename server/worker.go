package server

import (
	"context"

	"github.com/eudore/tinyhttpd"
)

// NewWorkerFunc returns the function the supervisor calls to start worker id.
//
// The listener is bound before it returns, so bind errors reach the
// supervisor; the returned function runs the listener loop until ctx is done.
func NewWorkerFunc(log tinyhttpd.Logger, metrics *Metrics) func(context.Context, int, *tinyhttpd.Config) (func() error, error) {
	return func(ctx context.Context, id int, conf *tinyhttpd.Config) (func() error, error) {
		ln, err := Listen(ctx, conf)
		if err != nil {
			return nil, err
		}
		srv := NewServer(conf, log, metrics)
		srv.ID = id
		return func() error {
			defer srv.Close()
			return srv.Serve(ctx, ln)
		}, nil
	}
}
