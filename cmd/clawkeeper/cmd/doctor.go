package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawops/clawkeeper/internal/config"
	"github.com/clawops/clawkeeper/internal/region"
)

// CheckResult represents the result of a single diagnostic check.
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "pass", "warn", "fail"
	Message string `json:"message"`
}

// DoctorReport contains all diagnostic check results.
type DoctorReport struct {
	Timestamp string        `json:"timestamp"`
	OverallOK bool          `json:"overall_ok"`
	PassCount int           `json:"pass_count"`
	WarnCount int           `json:"warn_count"`
	FailCount int           `json:"fail_count"`
	Checks    []CheckResult `json:"checks"`
}

// chromeBinaries are searched in PATH for the browser driver.
var chromeBinaries = []string{
	"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome", "headless-shell",
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose setup issues before an unattended run",
	Long: `Runs diagnostic checks on the clawkeeper setup and reports anything
that would degrade or fail an unattended login.

Checks performed:
  - Credentials: are GH_USERNAME and GH_PASSWORD set?
  - Wait budgets: are the challenge budgets positive?
  - Browser: is a Chrome or Chromium binary in PATH?
  - Screenshots: is the screenshot directory writable?
  - Region: does the forced region (if any) look like a tenant label?
  - Channel: is the Telegram operator channel configured?
  - Secret store: is the repository secret store configured?

Flags:
  --json  Output results in JSON format for scripting`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		report := runDoctorChecks()

		if jsonOutput {
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			if !report.OverallOK {
				return fmt.Errorf("doctor found %d failing check(s)", report.FailCount)
			}
			return nil
		}

		fmt.Println("clawkeeper doctor")
		fmt.Println()
		for _, c := range report.Checks {
			fmt.Printf("  %s %-14s %s\n", statusIcon(c.Status), c.Name, c.Message)
		}
		fmt.Println()
		fmt.Printf("%d passed, %d warnings, %d failed\n", report.PassCount, report.WarnCount, report.FailCount)

		if !report.OverallOK {
			return fmt.Errorf("doctor found %d failing check(s)", report.FailCount)
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().Bool("json", false, "output results as JSON")
	rootCmd.AddCommand(doctorCmd)
}

func statusIcon(status string) string {
	switch status {
	case "pass":
		return "✅"
	case "warn":
		return "⚠️"
	default:
		return "❌"
	}
}

func runDoctorChecks() DoctorReport {
	report := DoctorReport{Timestamp: time.Now().Format(time.RFC3339)}

	cfg, err := config.Load()
	if err != nil {
		cfg = config.Default()
		report.Checks = append(report.Checks, CheckResult{
			Name: "config", Status: "fail", Message: err.Error(),
		})
	}

	report.Checks = append(report.Checks, checkCredentials(cfg))
	report.Checks = append(report.Checks, checkBudgets(cfg))
	report.Checks = append(report.Checks, checkBrowser())
	report.Checks = append(report.Checks, checkScreenshotDir(cfg))
	report.Checks = append(report.Checks, checkRegion(cfg))
	report.Checks = append(report.Checks, checkChannel(cfg))
	report.Checks = append(report.Checks, checkStore(cfg))

	for _, c := range report.Checks {
		switch c.Status {
		case "pass":
			report.PassCount++
		case "warn":
			report.WarnCount++
		default:
			report.FailCount++
		}
	}
	report.OverallOK = report.FailCount == 0
	return report
}

func checkCredentials(cfg *config.Config) CheckResult {
	if cfg.Username == "" || cfg.Password == "" {
		return CheckResult{Name: "credentials", Status: "fail",
			Message: "GH_USERNAME and GH_PASSWORD must be set"}
	}
	return CheckResult{Name: "credentials", Status: "pass",
		Message: fmt.Sprintf("signing in as %s", cfg.Username)}
}

func checkBudgets(cfg *config.Config) CheckResult {
	if cfg.DeviceVerifyWait <= 0 || cfg.TwoFactorWait <= 0 || cfg.RedirectWait <= 0 {
		return CheckResult{Name: "budgets", Status: "fail",
			Message: "all wait budgets must be positive"}
	}
	return CheckResult{Name: "budgets", Status: "pass",
		Message: fmt.Sprintf("device %s, two-factor %s, redirect %s",
			formatDurationShort(cfg.DeviceVerifyWait),
			formatDurationShort(cfg.TwoFactorWait),
			formatDurationShort(cfg.RedirectWait))}
}

func checkBrowser() CheckResult {
	for _, bin := range chromeBinaries {
		if path, err := osexec.LookPath(bin); err == nil {
			return CheckResult{Name: "browser", Status: "pass", Message: path}
		}
	}
	return CheckResult{Name: "browser", Status: "fail",
		Message: "no Chrome or Chromium binary found in PATH"}
}

func checkScreenshotDir(cfg *config.Config) CheckResult {
	dir := cfg.ScreenshotDir
	if dir == "" {
		dir = "."
	}
	probe := filepath.Join(dir, ".clawkeeper-doctor")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return CheckResult{Name: "screenshots", Status: "fail",
			Message: fmt.Sprintf("cannot write to %s: %v", dir, err)}
	}
	_ = os.Remove(probe)
	return CheckResult{Name: "screenshots", Status: "pass", Message: dir}
}

func checkRegion(cfg *config.Config) CheckResult {
	if cfg.ForcedRegion == "" {
		return CheckResult{Name: "region", Status: "pass",
			Message: "no forced region, binding follows the redirect"}
	}
	if !region.IsTenantURL(region.BaseURL(cfg.ForcedRegion)) {
		return CheckResult{Name: "region", Status: "fail",
			Message: fmt.Sprintf("%q does not look like a tenant label", cfg.ForcedRegion)}
	}
	return CheckResult{Name: "region", Status: "pass",
		Message: fmt.Sprintf("pinned to %s", region.BaseURL(cfg.ForcedRegion))}
}

func checkChannel(cfg *config.Config) CheckResult {
	if !cfg.ChannelConfigured() {
		return CheckResult{Name: "channel", Status: "warn",
			Message: "Telegram not configured: challenges needing an operator will time out"}
	}
	return CheckResult{Name: "channel", Status: "pass",
		Message: fmt.Sprintf("operator chat %s", cfg.TelegramChatID)}
}

func checkStore(cfg *config.Config) CheckResult {
	if !cfg.StoreConfigured() {
		return CheckResult{Name: "secret store", Status: "warn",
			Message: "REPO_TOKEN/GITHUB_REPOSITORY not set: the cookie will be disclosed via the channel"}
	}
	return CheckResult{Name: "secret store", Status: "pass",
		Message: cfg.Repository}
}
