package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/splitwise-ledger/internal/app"
	"github.com/dvloznov/splitwise-ledger/internal/config"
	"github.com/dvloznov/splitwise-ledger/internal/domain"
	"github.com/dvloznov/splitwise-ledger/internal/logger"
	"github.com/dvloznov/splitwise-ledger/internal/storage"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "transactions":
		runTransactions(log)
	case "balances":
		runBalances(log)
	case "history":
		runHistory(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Splitwise Ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  transactions  List the current transactions of a group")
	fmt.Println("  balances      Show net balance per participant of a group")
	fmt.Println("  history       Show every stored version of one transaction")
	fmt.Println("  help          Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// openReader loads config and opens the configured store.
func openReader(ctx context.Context, log zerolog.Logger) storage.Gateway {
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	return store
}

func runTransactions(log zerolog.Logger) {
	fs := flag.NewFlagSet("transactions", flag.ExitOnError)
	groupID := fs.String("group-id", "", "Splitwise group ID")
	fs.Parse(os.Args[2:])

	if *groupID == "" {
		log.Fatal().Msg("Error: --group-id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store := openReader(ctx, log)
	defer store.Close()

	txns, err := store.CurrentTransactions(ctx, *groupID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to query transactions")
	}
	printTransactions(os.Stdout, txns)
}

func runBalances(log zerolog.Logger) {
	fs := flag.NewFlagSet("balances", flag.ExitOnError)
	groupID := fs.String("group-id", "", "Splitwise group ID")
	fs.Parse(os.Args[2:])

	if *groupID == "" {
		log.Fatal().Msg("Error: --group-id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store := openReader(ctx, log)
	defer store.Close()

	balances, err := store.CurrentBalances(ctx, *groupID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to query balances")
	}
	printBalances(os.Stdout, balances)
}

func runHistory(log zerolog.Logger) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	groupID := fs.String("group-id", "", "Splitwise group ID")
	txnID := fs.String("transaction-id", "", "Transaction (expense) ID")
	fs.Parse(os.Args[2:])

	if *groupID == "" || *txnID == "" {
		log.Fatal().Msg("Usage: cli history -group-id ID -transaction-id ID")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store := openReader(ctx, log)
	defer store.Close()

	versions, err := store.History(ctx, domain.Key{CollectionID: *groupID, ID: *txnID})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to query history")
	}
	if len(versions) == 0 {
		fmt.Println("Transaction not found")
		return
	}
	printHistory(os.Stdout, versions)
}

func printTransactions(w io.Writer, txns []domain.Transaction) {
	fmt.Fprintf(w, "\n=== Transactions (%d) ===\n", len(txns))
	for i, t := range txns {
		fmt.Fprintf(w, "\n%d. %s\n", i+1, t.Description)
		fmt.Fprintf(w, "   ID:       %s\n", t.ID)
		fmt.Fprintf(w, "   Date:     %s\n", t.OccurredAt.Format("2006-01-02"))
		fmt.Fprintf(w, "   Amount:   %s %s\n", t.Amount.Decimal.StringFixed(2), t.CurrencyCode)
		if t.CategoryName != nil {
			fmt.Fprintf(w, "   Category: %s\n", *t.CategoryName)
		}
		if t.IsTransfer {
			fmt.Fprintln(w, "   Transfer: yes")
		}
	}
	fmt.Fprintln(w)
}

func printBalances(w io.Writer, balances []domain.Balance) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PARTICIPANT\tNAME\tPAID\tOWED\tNET")
	for _, b := range balances {
		name := ""
		if b.ParticipantName != nil {
			name = *b.ParticipantName
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			b.ParticipantID, name, b.Paid.StringFixed(2), b.Owed.StringFixed(2), b.Net.StringFixed(2))
	}
	tw.Flush()
}

func printHistory(w io.Writer, versions []domain.Transaction) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION_START\tVERSION_END\tCURRENT\tAMOUNT\tDESCRIPTION")
	for _, v := range versions {
		end := "-"
		if v.VersionEnd != nil {
			end = v.VersionEnd.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s %s\t%s\n",
			v.VersionStart.Format(time.RFC3339), end, v.IsCurrent,
			v.Amount.Decimal.StringFixed(2), v.CurrencyCode, v.Description)
	}
	tw.Flush()
}
