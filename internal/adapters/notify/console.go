package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/marquinhogomes/pairtrader/internal/domain"
)

// Console implementa ports.Notifier escribiendo el estado del motor en la
// terminal.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// NotifyStatus imprime el snapshot y la tabla de grupos vivos.
func (c *Console) NotifyStatus(_ context.Context, snap domain.StatusSnapshot, groups []domain.TradeGroup) error {
	c.printSummary(snap)

	if len(groups) == 0 {
		fmt.Fprintln(c.out, "  sin grupos vivos")
		return nil
	}
	if c.table {
		c.printTable(groups)
	} else {
		c.printCompact(groups)
	}

	for _, a := range snap.Alerts {
		fmt.Fprintf(c.out, "  [%s] %s %s\n", a.Severity, a.At.Format("15:04:05"), a.Message)
	}
	return nil
}

// printSummary imprime lo esencial en una línea.
func (c *Console) printSummary(snap domain.StatusSnapshot) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] grupos:%d cerrados hoy:%d",
		snap.TakenAt.Format("15:04:05"), snap.OpenGroups, snap.ClosedToday)
	if snap.SkippedPairs > 0 {
		fmt.Fprintf(&sb, " saltados:%d", snap.SkippedPairs)
	}
	if snap.GatewayRetries > 0 {
		fmt.Fprintf(&sb, " reintentos:%d", snap.GatewayRetries)
	}
	if snap.FlaggedGroups > 0 {
		fmt.Fprintf(&sb, " MARCADOS:%d", snap.FlaggedGroups)
	}
	for _, t := range snap.Tasks {
		mark := "+"
		if !t.Alive {
			mark = "-"
		}
		fmt.Fprintf(&sb, " %s%s", mark, t.Name)
	}
	fmt.Fprintln(c.out, sb.String())
}

func (c *Console) printCompact(groups []domain.TradeGroup) {
	for _, g := range groups {
		fmt.Fprintf(c.out, "  %d %s %s pnl:%.2f %s\n",
			g.MagicID, g.PairID, g.State, g.TotalProfit(), flagMark(g))
	}
}

// printTable imprime una fila por grupo con el detalle de ambas patas.
func (c *Console) printTable(groups []domain.TradeGroup) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Magic", "Par", "Estado", "Dep", "Ind", "PnL", "Abierto", "Nota")

	for _, g := range groups {
		table.Append(
			fmt.Sprintf("%d", g.MagicID),
			g.PairID,
			string(g.State),
			legLabel(g.Dependent),
			legLabel(g.Independent),
			fmt.Sprintf("%.2f", g.TotalProfit()),
			g.OpenedAt.Format("15:04"),
			flagMark(g),
		)
	}
	table.Render()
}

// legLabel resume una pata: lado, volumen y P/L.
func legLabel(l domain.Leg) string {
	switch l.Status {
	case domain.LegPending:
		return fmt.Sprintf("%s %s pend", shortSide(l.Side), l.Symbol)
	case domain.LegClosed:
		return fmt.Sprintf("%s %s cerrada %.2f", shortSide(l.Side), l.Symbol, l.Profit)
	default:
		return fmt.Sprintf("%s %s@%.2f %.2f", shortSide(l.Side), l.Symbol, l.OpenPrice, l.Profit)
	}
}

func shortSide(s domain.LegSide) string {
	if s == domain.SideLong {
		return "L"
	}
	return "S"
}

func flagMark(g domain.TradeGroup) string {
	if g.Flagged {
		return "MANUAL: " + g.FlagReason
	}
	if g.CloseReason != "" {
		return g.CloseReason
	}
	return ""
}

// PrintDailyReport imprime el resumen de grupos cerrados de un día.
func (c *Console) PrintDailyReport(day string, archives []domain.GroupArchive) {
	if len(archives) == 0 {
		fmt.Fprintf(c.out, "[%s] sin cierres el %s\n", time.Now().Format("15:04:05"), day)
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Magic", "Par", "Motivo", "PnL", "Cerrado")

	var total float64
	for _, a := range archives {
		total += a.Group.RealizedPnL
		table.Append(
			fmt.Sprintf("%d", a.Group.MagicID),
			a.Group.PairID,
			a.Group.CloseReason,
			fmt.Sprintf("%.2f", a.Group.RealizedPnL),
			a.ClosedAt.Format("15:04:05"),
		)
	}
	table.Render()
	fmt.Fprintf(c.out, "  total %s: %.2f en %d grupos\n", day, total, len(archives))
}
