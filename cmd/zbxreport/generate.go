package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rcourtman/zbxreport/internal/api"
	"github.com/rcourtman/zbxreport/internal/config"
	"github.com/rcourtman/zbxreport/internal/i18n"
	"github.com/rcourtman/zbxreport/internal/logging"
	"github.com/rcourtman/zbxreport/internal/report"
	"github.com/rcourtman/zbxreport/internal/selection"
	"github.com/rcourtman/zbxreport/internal/websession"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// generateFlags are the selection flags of the generate command.
type generateFlags struct {
	hosts    []string
	hostIDs  []string
	groupIDs []string
	items    []string
	itemIDs  []string
	from     string
	to       string
	tz       string
	lang     string
	output   string
}

var genFlags generateFlags

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a report from the command line",
	Long: `Generate renders a report without the HTTP service. Credentials come from
ZABBIX_USER and ZABBIX_PASS; the password is prompted for on a terminal when unset.`,
	Example: `  zbxreport generate --host web-01 --item system.cpu.load --from "2024-03-01 08:00" --to "2024-03-01 10:00"
  zbxreport generate --group 2 --item "Template OS Linux | Items: CPU load, Memory" -o cpu.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGenerate(cmd, genFlags)
	},
}

func init() {
	f := generateCmd.Flags()
	f.StringArrayVar(&genFlags.hosts, "host", nil, "host technical or visible name, wildcards allowed (repeatable)")
	f.StringSliceVar(&genFlags.hostIDs, "hostid", nil, "host id (repeatable)")
	f.StringSliceVar(&genFlags.groupIDs, "group", nil, "host group id (repeatable)")
	f.StringArrayVar(&genFlags.items, "item", nil, "item key or name (repeatable)")
	f.StringSliceVar(&genFlags.itemIDs, "itemid", nil, "item id (repeatable)")
	f.StringVar(&genFlags.from, "from", "", "range start, e.g. 2024-03-01 08:00 (default: 24h ago)")
	f.StringVar(&genFlags.to, "to", "", "range end (default: now)")
	f.StringVar(&genFlags.tz, "tz", "", "timezone of --from/--to (default: ZABBIX_TZ)")
	f.StringVar(&genFlags.lang, "lang", "", "document language, es or en (default: DEFAULT_LANGUAGE)")
	f.StringVarP(&genFlags.output, "output", "o", "", "output file or directory (default: current directory)")
}

// form maps the flags onto the field names accepted by the report form.
func (g generateFlags) form() url.Values {
	form := url.Values{}
	add := func(key string, values []string) {
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				form.Add(key, v)
			}
		}
	}
	add("hosts", g.hosts)
	add("hostids", g.hostIDs)
	add("hostgroupids", g.groupIDs)
	add("items_keys", g.items)
	add("itemids", g.itemIDs)
	if g.from != "" {
		form.Set("from_dt", g.from)
	}
	if g.to != "" {
		form.Set("to_dt", g.to)
	}
	if g.tz != "" {
		form.Set("client_tz", g.tz)
	}
	return form
}

func runGenerate(cmd *cobra.Command, flags generateFlags) error {
	logging.Init(logging.Config{Format: "auto", Level: "warn", Component: "zbxreport"})
	defer logging.Shutdown()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	initLogging(cfg)

	user := cfg.ZabbixUser
	if user == "" {
		return errors.New("ZABBIX_USER is required for generate")
	}
	password, err := resolvePassword(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	lang := i18n.Normalize(cfg.DefaultLanguage)
	if flags.lang != "" {
		lang = i18n.Normalize(flags.lang)
	}

	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx := context.Background()
	loginCtx, cancel := context.WithTimeout(ctx, cfg.LoginTimeout)
	client, err := api.NewAPIFactory(cfg, p.tracer)(loginCtx, user, password)
	cancel()
	if err != nil {
		return fmt.Errorf("monitoring API login: %w", err)
	}
	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.Background(), cfg.APITimeout)
		defer cancel()
		if err := client.Logout(logoutCtx); err != nil {
			log.Debug().Err(err).Msg("Monitoring API logout failed")
		}
	}()

	job := report.Job{
		Raw:         selection.FromForm(flags.form()),
		API:         client,
		SessionID:   "cli:" + user,
		Credentials: websession.Credentials{User: user, Password: password},
		Lang:        lang,
		Labels:      i18n.Labels(lang),
	}

	var written string
	err = p.generator.Generate(ctx, job, func(out *report.Output) error {
		dst := outputPath(flags.output, out.FileName)
		if err := copyFile(out.Path, dst); err != nil {
			return err
		}
		written = dst
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%d charts, %d missing, %d bytes)\n", dst, out.Charts, out.Missing, out.Size)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", i18n.ErrorMessage(lang, err), err)
	}
	log.Info().Str("file", written).Msg("Report written")
	return nil
}

// resolvePassword returns ZABBIX_PASS, prompting on a terminal when unset.
func resolvePassword(cfg *config.Config, prompt io.Writer) (string, error) {
	if cfg.ZabbixPass != "" {
		return cfg.ZabbixPass, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("ZABBIX_PASS is required when stdin is not a terminal")
	}
	fmt.Fprintf(prompt, "Password for %s: ", cfg.ZabbixUser)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

// outputPath resolves the -o flag: empty means the current directory, a
// directory receives the generated name, anything else is used as-is.
func outputPath(output, name string) string {
	if output == "" {
		return name
	}
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		return filepath.Join(output, name)
	}
	if strings.HasSuffix(output, string(os.PathSeparator)) {
		return filepath.Join(output, name)
	}
	return output
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
