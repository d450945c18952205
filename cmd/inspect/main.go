// Command inspect prints the state of a ledger database without running a
// node. It reads a SQLite file (or backup) or a Postgres database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"trustchain.mini/tcm/internal/store"
	"trustchain.mini/tcm/internal/types"
)

// reportStore is what inspect needs from either SQL backend.
type reportStore interface {
	Global(ctx context.Context) (types.GlobalState, error)
	Reports(ctx context.Context, after uint64, limit int) ([]types.ReportRecord, error)
	LastCommit(ctx context.Context) (store.Commit, error)
	Close() error
}

func main() {
	dbPath := flag.String("db", "ledger.db", "SQLite database file")
	dsn := flag.String("dsn", "", "Postgres DSN; overrides -db")
	after := flag.Uint64("after", 0, "list reports with an id greater than this")
	limit := flag.Int("limit", 20, "maximum number of reports to list")
	flag.Parse()

	logger := slog.New(pterm.NewSlogHandler(&pterm.DefaultLogger))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := open(ctx, *dbPath, *dsn)
	if err != nil {
		logger.Error("failed to open ledger", "err", err)
		os.Exit(1)
	}
	defer s.Close()

	if err := run(ctx, s, *after, *limit); err != nil {
		logger.Error("inspect failed", "err", err)
		os.Exit(1)
	}
}

func open(ctx context.Context, dbPath, dsn string) (reportStore, error) {
	if dsn != "" {
		return store.OpenPostgres(ctx, dsn)
	}
	if _, err := os.Stat(dbPath); err != nil {
		return nil, err
	}
	return store.OpenSQLite(ctx, dbPath)
}

func run(ctx context.Context, s reportStore, after uint64, limit int) error {
	g, err := s.Global(ctx)
	if errors.Is(err, store.ErrNotFound) {
		pterm.Warning.Println("Ledger instance has not been created")
		return nil
	}
	if err != nil {
		return err
	}
	commit, err := s.LastCommit(ctx)
	if err != nil {
		return err
	}
	reports, err := s.Reports(ctx, after, limit)
	if err != nil {
		return err
	}

	pterm.DefaultSection.Println("Ledger")
	if err := pterm.DefaultTable.WithData(stateTable(g, commit)).Render(); err != nil {
		return err
	}

	pterm.DefaultSection.Println("Reports")
	if len(reports) == 0 {
		pterm.Info.Println("No reports")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(reportTable(reports)).Render()
}

func stateTable(g types.GlobalState, c store.Commit) pterm.TableData {
	return pterm.TableData{
		{"Status", string(g.Status)},
		{"Version", g.Version},
		{"Admin", g.Admin},
		{"Total reports", strconv.FormatUint(g.TotalReports, 10)},
		{"Anonymous reports", strconv.FormatUint(g.AnonymousReports, 10)},
		{"With evidence", strconv.FormatUint(g.EvidenceReports, 10)},
		{"Last height", strconv.FormatInt(c.Height, 10)},
		{"App hash", fmt.Sprintf("%X", c.AppHash)},
	}
}

const messageWidth = 48

func reportTable(reports []types.ReportRecord) pterm.TableData {
	data := pterm.TableData{{"ID", "Time", "Submitter", "Reference", "Evidence", "Message"}}
	for _, r := range reports {
		data = append(data, []string{
			strconv.FormatUint(r.ID, 10),
			time.Unix(int64(r.Timestamp), 0).UTC().Format(time.RFC3339),
			r.Submitter,
			r.ReferenceCode,
			r.EvidencePointer,
			truncate(r.Message, messageWidth),
		})
	}
	return data
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
