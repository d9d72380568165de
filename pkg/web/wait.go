/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: wait.go
Description: Bounded waiting shared by the components that settle after driving a page.
*/

package web

import (
	"context"
	"time"
)

// Sleeper blocks for a duration unless ctx ends first
type Sleeper func(ctx context.Context, d time.Duration) error

// Wait sleeps for d or until ctx is done
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
