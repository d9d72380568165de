/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: profiles.go
Description: Profiles commands. Lists the merged capability profiles and exports them as a
YAML file that can be edited and passed back with --profiles.
*/

package commands

import (
	"fmt"
	"strings"

	"github.com/kleascm/kronos-explorer/pkg/capability"
	"github.com/spf13/cobra"
)

// RunProfiles lists every capability profile
func RunProfiles(cmd *cobra.Command, args []string) error {
	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	registry, err := loadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load capability profiles: %w", err)
	}

	fmt.Println("📋 Device Capability Profiles")
	fmt.Println("=============================")
	for _, p := range registry.All() {
		fmt.Printf("\n%s (series %d)\n", p.Model, p.Series)
		fmt.Printf("  Timeout multiplier: %.1f\n", p.Multiplier())
		fmt.Printf("  PTP: %v, interfaces: %s\n", p.Supports(capability.FeaturePTP), strings.Join(p.Interfaces, ", "))
		fmt.Printf("  Session refresh: %v\n", p.RefreshInterval())
		if len(p.KnownIssues) > 0 {
			fmt.Printf("  Known issues: %s\n", strings.Join(p.KnownIssues, "; "))
		}
	}
	return nil
}

// RunProfilesExport writes the merged profiles to args[0]
func RunProfilesExport(cmd *cobra.Command, args []string) error {
	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	registry, err := loadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load capability profiles: %w", err)
	}
	profiles := registry.All()
	if err := capability.WriteFile(args[0], profiles); err != nil {
		return fmt.Errorf("failed to export profiles: %w", err)
	}
	fmt.Printf("✅ Exported %d profile(s) to %s\n", len(profiles), args[0])
	return nil
}
