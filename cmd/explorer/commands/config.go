/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: config.go
Description: Builds the exploration plan from viper: devices, viewport profiles, pages,
credentials, the safety allow-list and the engine configuration.
*/

package commands

import (
	"fmt"
	"strings"

	"github.com/kleascm/kronos-explorer/pkg/auth"
	"github.com/kleascm/kronos-explorer/pkg/core"
	"github.com/kleascm/kronos-explorer/pkg/strategies"
	"github.com/spf13/viper"
)

// plan is everything a command needs to run against devices
type plan struct {
	Devices []core.Device
	Engine  core.Config
	Allow   strategies.AllowListConfig
	Driver  string
}

// resolveDevices merges configured devices with --device addresses
func resolveDevices() ([]core.Device, error) {
	var devices []core.Device
	if viper.IsSet("devices") {
		if err := viper.UnmarshalKey("devices", &devices); err != nil {
			return nil, fmt.Errorf("invalid devices: %w", err)
		}
	}
	seen := make(map[string]bool)
	for _, d := range devices {
		seen[d.Address] = true
	}
	for _, addr := range viper.GetStringSlice("device_addresses") {
		addr = strings.TrimSpace(addr)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		devices = append(devices, core.Device{Address: addr, Model: viper.GetString("device_model")})
	}
	for i, d := range devices {
		if d.Address == "" {
			return nil, fmt.Errorf("device %d has no address", i)
		}
	}
	return devices, nil
}

// resolveViewports returns the configured viewports filtered by --viewport
func resolveViewports() ([]core.Viewport, error) {
	all := core.DefaultViewports()
	if viper.IsSet("viewports") {
		all = nil
		if err := viper.UnmarshalKey("viewports", &all); err != nil {
			return nil, fmt.Errorf("invalid viewports: %w", err)
		}
	}
	names := viper.GetStringSlice("viewport_names")
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]core.Viewport, len(all))
	for _, vp := range all {
		byName[vp.Name] = vp
	}
	out := make([]core.Viewport, 0, len(names))
	for _, name := range names {
		vp, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown viewport: %s", name)
		}
		out = append(out, vp)
	}
	return out, nil
}

// resolvePages returns the configured pages filtered by --page
func resolvePages() ([]core.PageSpec, error) {
	all := core.DefaultPages()
	if viper.IsSet("pages") {
		all = nil
		if err := viper.UnmarshalKey("pages", &all); err != nil {
			return nil, fmt.Errorf("invalid pages: %w", err)
		}
	}
	paths := viper.GetStringSlice("page_paths")
	if len(paths) == 0 {
		return all, nil
	}
	byPath := make(map[string]core.PageSpec, len(all))
	for _, p := range all {
		byPath[p.Path] = p
	}
	out := make([]core.PageSpec, 0, len(paths))
	for _, path := range paths {
		p, ok := byPath[path]
		if !ok {
			return nil, fmt.Errorf("unknown page: %s", path)
		}
		out = append(out, p)
	}
	return out, nil
}

// credentials reads each key separately so KRONOS_CREDENTIALS_* overrides apply
func credentials() auth.Credentials {
	return auth.Credentials{
		Username:       viper.GetString("credentials.username"),
		StatusPassword: viper.GetString("credentials.status_password"),
		ConfigPassword: viper.GetString("credentials.config_password"),
	}
}

// allowListConfig overlays allow_list keys on the default allow-list
func allowListConfig() (strategies.AllowListConfig, error) {
	cfg := strategies.DefaultAllowListConfig()
	for key, dst := range map[string]any{
		"allow_list.categories":   &cfg.Categories,
		"allow_list.denied":       &cfg.Denied,
		"allow_list.denied_pages": &cfg.DeniedPages,
	} {
		if !viper.IsSet(key) {
			continue
		}
		if err := viper.UnmarshalKey(key, dst); err != nil {
			return cfg, fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	return cfg, nil
}

// createPlan builds the run plan from viper
func createPlan() (*plan, error) {
	devices, err := resolveDevices()
	if err != nil {
		return nil, err
	}
	viewports, err := resolveViewports()
	if err != nil {
		return nil, err
	}
	pages, err := resolvePages()
	if err != nil {
		return nil, err
	}
	allow, err := allowListConfig()
	if err != nil {
		return nil, err
	}

	engine := core.DefaultConfig()
	engine.Viewports = viewports
	engine.Pages = pages
	engine.Credentials = credentials()
	engine.Budget = viper.GetDuration("budget")
	engine.ProbeAuth = !viper.GetBool("skip_auth_probe")

	driver := strings.ToLower(viper.GetString("driver"))
	if driver == "" {
		driver = driverChromeDP
	}
	return &plan{Devices: devices, Engine: engine, Allow: allow, Driver: driver}, nil
}

// validatePlan checks the plan before any browser is started
func validatePlan(p *plan) error {
	if len(p.Devices) == 0 {
		return fmt.Errorf("no devices configured (use --device or the devices key)")
	}
	if len(p.Engine.Viewports) == 0 {
		return fmt.Errorf("no viewports configured")
	}
	for _, vp := range p.Engine.Viewports {
		if vp.Width <= 0 || vp.Height <= 0 {
			return fmt.Errorf("viewport %s has no size", vp.Name)
		}
	}
	if p.Engine.Credentials.StatusPassword == "" {
		return fmt.Errorf("credentials.status_password is required")
	}
	if p.Engine.Budget < 0 {
		return fmt.Errorf("budget must not be negative")
	}
	switch p.Driver {
	case driverChromeDP, driverPlaywright:
	default:
		return fmt.Errorf("unsupported driver: %s", p.Driver)
	}
	if _, err := strategies.NewAllowList(p.Allow); err != nil {
		return err
	}
	return nil
}
