package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"

	"github.com/sawpanic/yieldrun/internal/positions"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check collaborator and system health",
	Long: `Probe every configured collaborator and report host resource usage:
- Market data source reachability per chain
- Redis snapshot mirror connectivity
- Postgres position store connectivity
- Host CPU, memory, and disk headroom

Examples:
  yieldrun health --demo
  yieldrun health --json`,
	RunE: runHealthCommand,
}

var (
	healthDemo    bool
	healthJSON    bool
	healthTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(healthCmd)

	healthCmd.Flags().BoolVar(&healthDemo, "demo", false, "Probe the demo collaborators")
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "Output health status as JSON")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 30*time.Second, "Health check timeout")
}

// ComponentHealth is one collaborator probe result.
type ComponentHealth struct {
	Status    string        `json:"status"` // HEALTHY, DEGRADED, UNHEALTHY, SKIPPED
	Latency   time.Duration `json:"latency"`
	Detail    string        `json:"detail,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// SystemHealth is host resource usage from gopsutil.
type SystemHealth struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryFreeMB  uint64  `json:"memory_free_mb"`
	DiskPercent   float64 `json:"disk_percent"`
}

// HealthStatus is the full health report.
type HealthStatus struct {
	Overall    string                     `json:"overall"` // HEALTHY, DEGRADED, UNHEALTHY
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
	System     SystemHealth               `json:"system"`
}

func runHealthCommand(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	envCfg, err := loadEnv()
	if err != nil {
		return err
	}

	health := &HealthStatus{
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]ComponentHealth),
	}

	health.Components["market_source"] = probeMarketSource(ctx, envCfg)
	health.Components["redis_mirror"] = probeRedis(ctx, envCfg)
	health.Components["position_store"] = probePostgres(ctx, envCfg)
	health.System = collectSystemHealth()
	health.Overall = overallStatus(health)

	if healthJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(health)
	}

	printHealth(health)
	if health.Overall == "UNHEALTHY" {
		return fmt.Errorf("system unhealthy")
	}
	return nil
}

func probeMarketSource(ctx context.Context, envCfg Env) ComponentHealth {
	source, _, _, err := buildCollaborators(healthDemo, envCfg)
	if err != nil {
		return ComponentHealth{Status: "UNHEALTHY", LastError: err.Error()}
	}

	started := time.Now()
	records, err := source.FetchSnapshot(ctx, 1)
	latency := time.Since(started)
	if err != nil {
		return ComponentHealth{Status: "UNHEALTHY", Latency: latency, LastError: err.Error()}
	}
	return ComponentHealth{
		Status:  "HEALTHY",
		Latency: latency,
		Detail:  fmt.Sprintf("%d records for chain 1", len(records)),
	}
}

func probeRedis(ctx context.Context, envCfg Env) ComponentHealth {
	if envCfg.RedisAddr == "" {
		return ComponentHealth{Status: "SKIPPED", Detail: "no YIELDRUN_REDIS_ADDR configured"}
	}

	client := redis.NewClient(&redis.Options{Addr: envCfg.RedisAddr})
	defer client.Close()

	started := time.Now()
	err := client.Ping(ctx).Err()
	latency := time.Since(started)
	if err != nil {
		return ComponentHealth{Status: "UNHEALTHY", Latency: latency, LastError: err.Error()}
	}
	return ComponentHealth{Status: "HEALTHY", Latency: latency}
}

func probePostgres(ctx context.Context, envCfg Env) ComponentHealth {
	if envCfg.PostgresDSN == "" {
		return ComponentHealth{Status: "SKIPPED", Detail: "no YIELDRUN_PG_DSN configured"}
	}

	store, err := positions.New(positions.Config{DSN: envCfg.PostgresDSN})
	if err != nil {
		return ComponentHealth{Status: "UNHEALTHY", LastError: err.Error()}
	}
	defer store.Close()

	started := time.Now()
	err = store.Ping(ctx)
	latency := time.Since(started)
	if err != nil {
		return ComponentHealth{Status: "UNHEALTHY", Latency: latency, LastError: err.Error()}
	}
	return ComponentHealth{Status: "HEALTHY", Latency: latency}
}

func collectSystemHealth() SystemHealth {
	var sys SystemHealth

	if usage, err := cpu.Percent(0, false); err == nil && len(usage) > 0 {
		sys.CPUPercent = usage[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		sys.MemoryPercent = vm.UsedPercent
		sys.MemoryFreeMB = vm.Available / (1024 * 1024)
	}
	if du, err := disk.Usage("/"); err == nil {
		sys.DiskPercent = du.UsedPercent
	}
	return sys
}

func overallStatus(health *HealthStatus) string {
	unhealthy := 0
	for _, c := range health.Components {
		if c.Status == "UNHEALTHY" {
			unhealthy++
		}
	}
	switch {
	case unhealthy == 0:
		return "HEALTHY"
	case unhealthy < len(health.Components):
		return "DEGRADED"
	default:
		return "UNHEALTHY"
	}
}

func printHealth(health *HealthStatus) {
	icon := map[string]string{"HEALTHY": "✅", "DEGRADED": "⚠️", "UNHEALTHY": "❌", "SKIPPED": "⏭️"}

	fmt.Printf("%s Overall: %s at %s\n\n", icon[health.Overall], health.Overall, health.Timestamp.Format(time.RFC3339))
	for name, c := range health.Components {
		fmt.Printf("  %s %-16s %-10s %v", icon[c.Status], name, c.Status, c.Latency.Round(time.Millisecond))
		if c.Detail != "" {
			fmt.Printf("  %s", c.Detail)
		}
		if c.LastError != "" {
			fmt.Printf("  error: %s", c.LastError)
		}
		fmt.Println()
	}
	fmt.Printf("\n  System: CPU %.1f%%, memory %.1f%% used (%d MB free), disk %.1f%%\n",
		health.System.CPUPercent, health.System.MemoryPercent, health.System.MemoryFreeMB, health.System.DiskPercent)
}
