package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/robfig/cron"
	"golang.org/x/term"

	"github.com/uptimeops/upcheck/logger"
	"github.com/uptimeops/upcheck/upcheck/bootmanager"
	"github.com/uptimeops/upcheck/upcheck/config"
	"github.com/uptimeops/upcheck/upcheck/inventory"
	"github.com/uptimeops/upcheck/upcheck/sessionmanager"
	"github.com/uptimeops/upcheck/upcheck/uptimequery"
)

type flags struct {
	ConfigPath     string
	Debug          bool
	Hostnames      hostnamesValue
	IniFilePath    string
	JSONOutput     bool
	KeyPassPrompt  bool
	PasswordPrompt bool
	Port           int
	Schedule       string
	Stdin          bool
	Threshold      float64
	Username       string
}

type hostnamesValue []string

func (h *hostnamesValue) String() string {
	return strings.Join(*h, ",")
}

func (h *hostnamesValue) Set(value string) error {
	*h = append(*h, value)
	return nil
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.ConfigPath, "config", "", "Path to YAML configuration file")
	flag.BoolVar(&f.Debug, "debug", false, "Enable debug log level")
	flag.Var(&f.Hostnames, "hostname", "Hostname to query (repeatable)")
	flag.StringVar(&f.IniFilePath, "ini", "", "Path to INI file with host inventory")
	flag.BoolVar(&f.JSONOutput, "json", false, "Emit results as JSON")
	flag.BoolVar(&f.KeyPassPrompt, "keypass", false, "Prompt for the SSH key passphrase")
	flag.BoolVar(&f.PasswordPrompt, "password", false, "Prompt for an SSH password")
	flag.IntVar(&f.Port, "port", 0, "SSH port (overrides configuration)")
	flag.StringVar(&f.Schedule, "schedule", "", "Repeat the sweep on a cron schedule")
	flag.BoolVar(&f.Stdin, "stdin", false, "Read hostnames from standard input, one per line")
	flag.Float64Var(&f.Threshold, "threshold", -1, "Uptime days above which a host is flagged (-1 uses the configured value)")
	flag.StringVar(&f.Username, "username", "", "Username for SSH connections")

	flag.Parse()

	return f
}

func main() {
	f := parseFlags()
	if err := run(f); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(f *flags) error {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(&cfg, f)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New(cfg.Log.Level)

	password, keyPass, err := readPasswords(f)
	if err != nil {
		return err
	}

	dialer := &sessionmanager.SSHDialer{
		Credentials: sessionmanager.Credentials{
			User:          cfg.SSH.User,
			Password:      password,
			KeyPassphrase: keyPass,
		},
		Port:           cfg.SSH.Port,
		DialTimeout:    cfg.SSH.DialTimeout.Duration,
		CommandTimeout: cfg.SSH.QueryTimeout.Duration,
	}

	querier := uptimequery.New(dialer, bootmanager.StatSource{},
		uptimequery.WithLogger(log),
		uptimequery.WithPatchThreshold(cfg.Patch.ThresholdDays),
	)

	if f.Stdin {
		return streamSweep(querier, os.Stdin, os.Stdout, f.JSONOutput, log)
	}

	names, err := gatherNames(f, log)
	if err != nil {
		return err
	}

	sweep := func() error {
		return runSweep(querier, names, os.Stdout, f.JSONOutput)
	}

	if f.Schedule == "" {
		return sweep()
	}
	return runScheduled(f.Schedule, sweep, log)
}

func applyFlagOverrides(cfg *config.Config, f *flags) {
	if f.Username != "" {
		cfg.SSH.User = f.Username
	}
	if f.Port > 0 {
		cfg.SSH.Port = f.Port
	}
	if f.Threshold >= 0 {
		cfg.Patch.ThresholdDays = f.Threshold
	}
	if f.Debug {
		cfg.Log.Level = "debug"
	}
}

func readPasswords(f *flags) (password, keyPass string, err error) {
	if f.PasswordPrompt {
		fmt.Print("Enter the password: ")
		passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return "", "", fmt.Errorf("read password: %w", err)
		}
		password = string(passwordBytes)
		fmt.Println()
	}

	if f.KeyPassPrompt {
		fmt.Print("Enter the key passphrase: ")
		keyPassBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return "", "", fmt.Errorf("read key passphrase: %w", err)
		}
		keyPass = string(keyPassBytes)
		fmt.Println()
	}

	return password, keyPass, nil
}

// gatherNames merges explicit -hostname flags with the INI inventory. An
// empty result is fine: the querier then falls back to the local host.
func gatherNames(f *flags, log logger.Logger) ([]string, error) {
	names := []string(f.Hostnames)

	if f.IniFilePath != "" {
		entries, err := inventory.LoadINI(f.IniFilePath)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			log.Debugf("adding host %s from group %q", e.HostName(), e.Group)
		}
		names = append(names, inventory.Names(entries)...)
	}

	if len(names) == 0 {
		log.Debugf("no hostnames given, querying the local host")
	}
	return names, nil
}

func runSweep(q *uptimequery.Querier, names []string, out io.Writer, asJSON bool) error {
	results := q.Run(context.Background(), names)
	if asJSON {
		return writeJSON(out, results)
	}
	return writeTable(out, results)
}

// streamSweep reads host names one per line and emits each result as soon as
// its host has been queried. The derived context unblocks the reader and the
// stream worker when rendering stops before the input is drained.
func streamSweep(q *uptimequery.Querier, in io.Reader, out io.Writer, asJSON bool, log logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	names := make(chan string)
	go func() {
		defer close(names)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			name := strings.TrimSpace(scanner.Text())
			if name == "" {
				continue
			}
			select {
			case names <- name:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Errorf("reading hostnames: %v", err)
		}
	}()

	enc := json.NewEncoder(out)
	if !asJSON {
		fmt.Fprintf(out, "%-28s %-8s %-20s %11s %6s\n", "COMPUTER NAME", "STATUS", "START TIME", "UPTIME DAYS", "PATCH")
	}
	for res := range q.Stream(ctx, names) {
		if asJSON {
			if err := enc.Encode(res); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(out, "%-28s %-8s %-20s %11.1f %6t\n",
			res.ComputerName, res.Status, res.StartTime, res.UptimeDays, res.MightNeedPatched)
	}
	return nil
}

func writeJSON(out io.Writer, results []uptimequery.HostUptimeResult) error {
	b, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}

func writeTable(out io.Writer, results []uptimequery.HostUptimeResult) error {
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPUTER NAME\tSTATUS\tSTART TIME\tUPTIME DAYS\tPATCH")
	for _, res := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f\t%t\n",
			res.ComputerName, res.Status, res.StartTime, res.UptimeDays, res.MightNeedPatched)
	}
	return tw.Flush()
}

// runScheduled repeats the sweep on a cron schedule. The first run happens at
// the schedule's next activation, not immediately.
func runScheduled(spec string, sweep func() error, log logger.Logger) error {
	schedule, err := cron.Parse(spec)
	if err != nil {
		return fmt.Errorf("invalid -schedule %q: %w", spec, err)
	}

	c := cron.New()
	c.Schedule(schedule, cron.FuncJob(func() {
		started := time.Now()
		if err := sweep(); err != nil {
			log.Errorf("sweep failed: %v", err)
			return
		}
		next := schedule.Next(time.Now())
		log.Infof("sweep completed in %v, next run at %v (in %v)",
			time.Since(started).Round(time.Millisecond), next, time.Until(next).Round(time.Second))
	}))

	first := schedule.Next(time.Now())
	log.Infof("using -schedule=%q, first sweep at %v (in %v)", spec, first, time.Until(first).Round(time.Second))

	c.Run()

	return nil
}
