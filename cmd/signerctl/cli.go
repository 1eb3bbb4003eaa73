package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

func run(args []string, stdout io.Writer) int {
	if len(args) < 2 {
		usage(args)
		return 1
	}

	switch args[1] {
	case "migrate":
		return runMigrate(args[2:])
	case "quota":
		if len(args) >= 3 && args[2] == "set" {
			return runQuotaSet(args[3:])
		}
	case "domain":
		if len(args) >= 3 {
			switch args[2] {
			case "id":
				return runDomainID(args[3:], stdout)
			case "register":
				return runDomainRegister(args[3:], stdout)
			}
		}
	}

	usage(args)
	return 1
}

func usage(args []string) {
	name := "signerctl"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s migrate\n", name)
	fmt.Fprintf(os.Stderr, "  %s quota set --account <id> --total <n> [--performed <n>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s domain id --name <name> --version <version> [--params <file>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s domain register --name <name> --version <version> --total <n> [--params <file>] [--performed <n>]\n", name)
	fmt.Fprintf(os.Stderr, "database commands read POSTGRES_DSN (or SIGNER_CONFIG_FILE)\n")
}
