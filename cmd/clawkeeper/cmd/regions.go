package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clawops/clawkeeper/internal/config"
	"github.com/clawops/clawkeeper/internal/region"
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "Show how the run will resolve its regional console",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		r := region.NewResolver(cfg.ForcedRegion)
		fmt.Printf("Default entry:   %s\n", region.DefaultEntry)
		if r.Forced() != "" {
			fmt.Printf("Forced tenant:   %s (%s)\n", r.Forced(), region.BaseURL(r.Forced()))
		} else {
			fmt.Println("Forced tenant:   none (binding follows the post-login redirect)")
		}
		fmt.Printf("Sign-in entry:   %s\n", r.SignInURL())

		if len(cfg.KeepAliveRegions) == 0 {
			fmt.Println("Keep-alive:      effective console only")
			return nil
		}
		fmt.Println("Keep-alive:")
		for _, tenant := range cfg.KeepAliveRegions {
			base := region.BaseURL(tenant)
			if !region.IsTenantURL(base) {
				fmt.Printf("  %s (not a tenant label, will be skipped)\n", tenant)
				continue
			}
			fmt.Printf("  %s\n", base)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(regionsCmd)
}
