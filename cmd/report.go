package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/attendance"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/config"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/constants"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print attendance records or a daily summary",
	Long: `Print attendance records for a day (default today) or a date range.

Examples:
  # Today's attendance
  face-attendance report

  # One class for a week, as CSV
  face-attendance report --from 2026-03-02 --to 2026-03-06 --class 10A --csv > week.csv

  # Present/late/absent totals for the last 30 days
  face-attendance report --summary --days 30`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().String("date", "", "Single day (YYYY-MM-DD), default today")
	reportCmd.Flags().String("from", "", "First day of a range (YYYY-MM-DD)")
	reportCmd.Flags().String("to", "", "Last day of a range (YYYY-MM-DD)")
	reportCmd.Flags().String("class", "", "Only this class")
	reportCmd.Flags().String("student", "", "Only this student ID")
	reportCmd.Flags().String("search", "", "Filter by name or roll number")
	reportCmd.Flags().Bool("csv", false, "Output as CSV")
	reportCmd.Flags().Bool("json", false, "Output as JSON")
	reportCmd.Flags().Bool("summary", false, "Print per-day totals instead of records")
	reportCmd.Flags().Int("days", constants.DefaultSummaryDays, "Days covered by --summary")
}

func runReport(cmd *cobra.Command, args []string) error {
	q := attendance.ReportQuery{
		Date:      mustGetString(cmd, "date"),
		From:      mustGetString(cmd, "from"),
		To:        mustGetString(cmd, "to"),
		StudentID: mustGetString(cmd, "student"),
		ClassName: mustGetString(cmd, "class"),
		Search:    mustGetString(cmd, "search"),
	}
	if err := q.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	svc, backend, err := newService(ctx, config.Load())
	if err != nil {
		return err
	}
	defer backend.Close()

	if mustGetBool(cmd, "summary") {
		days := mustGetInt(cmd, "days")
		if days < 1 || days > constants.MaxSummaryDays {
			return fmt.Errorf("--days must be between 1 and %d", constants.MaxSummaryDays)
		}
		return printSummary(ctx, svc, q.Date, days, mustGetBool(cmd, "json"))
	}

	if q.Date == "" && q.From == "" && q.To == "" {
		q.Date = svc.Today()
	}
	records, err := attendance.Collect(svc.Report(ctx, q))
	if err != nil {
		return err
	}

	switch {
	case mustGetBool(cmd, "csv"):
		seq := func(yield func(database.AttendanceRecord, error) bool) {
			for _, rec := range records {
				if !yield(rec, nil) {
					return
				}
			}
		}
		return attendance.WriteCSV(os.Stdout, seq, svc.Location())
	case mustGetBool(cmd, "json"):
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Println("No attendance records")
		return nil
	}
	loc := svc.Location()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tTIME\tCLASS\tROLL\tNAME\tSTATUS\tCONFIDENCE")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.1f%%\n",
			rec.Date, rec.Timestamp.In(loc).Format("15:04:05"), rec.ClassName, rec.RollNumber,
			rec.StudentName, rec.Status, rec.Confidence*100)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d records\n", len(records))
	return nil
}

func printSummary(ctx context.Context, svc *attendance.Service, date string, days int, asJSON bool) error {
	summary, err := svc.Summary(ctx, date, days)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tTOTAL\tPRESENT\tLATE\tABSENT\tRATE")
	for _, d := range summary {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.1f%%\n", d.Date, d.Total, d.Present, d.Late, d.Absent, d.Rate)
	}
	return w.Flush()
}
