package procurement

import (
	"context"

	"golang.org/x/sync/singleflight"
)

var boardGroup singleflight.Group

// singleflightBoard collapses concurrent board builds into one computation.
// A cold cache plus a burst of dashboard reads would otherwise hit the
// database once per request.
func singleflightBoard(ctx context.Context, key string, fn func(context.Context) (Board, error)) (Board, error) {
	resultChan := boardGroup.DoChan(key, func() (interface{}, error) {
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return Board{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return Board{}, res.Err
		}
		return res.Val.(Board), nil
	}
}
