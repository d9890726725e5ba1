package github

import (
	"context"

	"golang.org/x/sync/errgroup"
)

const batchConcurrency = 4

// Result is the outcome of one lookup in a batch.
type Result struct {
	Username string
	Profile  Profile
	Err      error
}

// FetchUsers looks up every name concurrently and returns one Result per name,
// in input order. Individual failures are reported in Result.Err.
func (c *Client) FetchUsers(ctx context.Context, usernames []string) []Result {
	results := make([]Result, len(usernames))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, name := range usernames {
		g.Go(func() error {
			p, err := c.FetchUser(ctx, name)
			results[i] = Result{Username: name, Profile: p, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
