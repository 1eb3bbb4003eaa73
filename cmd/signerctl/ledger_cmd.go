package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"quotasigner/internal/config"
	"quotasigner/internal/domain"
	"quotasigner/internal/infra/db"

	"github.com/spf13/pflag"
)

const commandTimeout = 30 * time.Second

func openLedger(ctx context.Context) (*db.LedgerRepository, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if cfg.PostgresDSN == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}
	store, err := db.NewStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db.NewLedgerRepository(store.DB), nil
}

func runMigrate(args []string) int {
	fs := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if _, err := openLedger(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	return 0
}

func runQuotaSet(args []string) int {
	fs := pflag.NewFlagSet("quota set", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var account string
	var total, performed int64
	fs.StringVar(&account, "account", "", "account identifier")
	fs.Int64Var(&total, "total", -1, "total quota")
	fs.Int64Var(&performed, "performed", 0, "performed query count")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if account == "" || total < 0 || performed < 0 {
		fmt.Fprintln(os.Stderr, "quota set requires --account and a non-negative --total")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	repo, err := openLedger(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open ledger: %v\n", err)
		return 1
	}
	status := domain.QuotaStatus{PerformedQueryCount: performed, TotalQuota: total}
	if err := repo.UpsertQuota(ctx, domain.Identifier(account), status); err != nil {
		fmt.Fprintf(os.Stderr, "set quota: %v\n", err)
		return 1
	}
	return 0
}

type domainFlags struct {
	name       string
	version    string
	paramsPath string
}

func (f *domainFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.name, "name", "", "domain name")
	fs.StringVar(&f.version, "version", "", "domain version")
	fs.StringVar(&f.paramsPath, "params", "", "domain params JSON file (object)")
}

func (f *domainFlags) descriptor() (domain.DomainDescriptor, domain.Identifier, error) {
	d := domain.DomainDescriptor{Name: f.name, Version: f.version}
	if f.paramsPath != "" {
		raw, err := os.ReadFile(f.paramsPath)
		if err != nil {
			return domain.DomainDescriptor{}, "", fmt.Errorf("read params: %w", err)
		}
		if err := json.Unmarshal(raw, &d.Params); err != nil {
			return domain.DomainDescriptor{}, "", fmt.Errorf("decode params: %w", err)
		}
	}
	if err := d.Validate(); err != nil {
		return domain.DomainDescriptor{}, "", err
	}
	id, err := d.Identifier()
	if err != nil {
		return domain.DomainDescriptor{}, "", err
	}
	return d, id, nil
}

func runDomainID(args []string, stdout io.Writer) int {
	fs := pflag.NewFlagSet("domain id", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var df domainFlags
	df.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	_, id, err := df.descriptor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "domain id: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, id)
	return 0
}

func runDomainRegister(args []string, stdout io.Writer) int {
	fs := pflag.NewFlagSet("domain register", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var df domainFlags
	df.register(fs)
	var total, performed int64
	fs.Int64Var(&total, "total", -1, "total quota")
	fs.Int64Var(&performed, "performed", 0, "performed query count")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if total < 0 || performed < 0 {
		fmt.Fprintln(os.Stderr, "domain register requires a non-negative --total")
		return 1
	}
	_, id, err := df.descriptor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "domain register: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	repo, err := openLedger(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open ledger: %v\n", err)
		return 1
	}
	state := domain.DomainState{Domain: id, Quota: domain.QuotaStatus{PerformedQueryCount: performed, TotalQuota: total}}
	if err := repo.UpsertDomain(ctx, state); err != nil {
		fmt.Fprintf(os.Stderr, "register domain: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, id)
	return 0
}
