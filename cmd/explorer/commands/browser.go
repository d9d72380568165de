/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: browser.go
Description: Surface openers for the supported browser drivers. Every call opens a fresh
browser with the viewport's window size and mobile emulation.
*/

package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/kleascm/kronos-explorer/pkg/core"
	"github.com/kleascm/kronos-explorer/pkg/web"
)

const (
	driverChromeDP   = "chromedp"
	driverPlaywright = "playwright"
)

// surfaceOpener returns the opener for a driver
func surfaceOpener(driver string, headless bool, opTimeout time.Duration) (core.SurfaceOpener, error) {
	switch driver {
	case driverChromeDP:
		return func(ctx context.Context, vp core.Viewport) (web.Surface, error) {
			s, err := web.NewChromeDPSurface(ctx, web.ChromeDPOptions{
				Headless:         headless,
				Width:            vp.Width,
				Height:           vp.Height,
				Mobile:           vp.Mobile,
				OperationTimeout: opTimeout,
			})
			if err != nil {
				return nil, err
			}
			return s, nil
		}, nil
	case driverPlaywright:
		return func(ctx context.Context, vp core.Viewport) (web.Surface, error) {
			s, err := web.NewPlaywrightSurface(web.PlaywrightOptions{
				Headless:         headless,
				Width:            vp.Width,
				Height:           vp.Height,
				Mobile:           vp.Mobile,
				OperationTimeout: opTimeout,
			})
			if err != nil {
				return nil, err
			}
			return s, nil
		}, nil
	}
	return nil, fmt.Errorf("unsupported driver: %s", driver)
}
