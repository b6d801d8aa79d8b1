package cmd

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/attendance"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/config"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/constants"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var studentsImportCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Enroll students in bulk from a directory of photos",
	Long: `Enroll students listed in a CSV manifest. Each row names one student and
the photos (relative to the directory, separated by ';') to enroll them with:

  name,roll_number,class_name,images
  Jana Nová,12,10A,jana1.jpg;jana2.jpg
  Petr Malý,13,10A,petr.jpg

Rows are enrolled in parallel. A row fails as a whole when any of its
photos is rejected; other rows are unaffected.

Examples:
  face-attendance students import ./photos
  face-attendance students import ./photos --manifest roster.csv --concurrency 2`,
	Args: cobra.ExactArgs(1),
	RunE: runStudentsImport,
}

func init() {
	studentsCmd.AddCommand(studentsImportCmd)

	studentsImportCmd.Flags().String("manifest", "students.csv", "Manifest file, relative to the directory")
	studentsImportCmd.Flags().Int("concurrency", constants.WorkerPoolSize, "Number of parallel workers")
}

// importRow is one manifest entry.
type importRow struct {
	Line   int
	Meta   database.StudentMeta
	Images []string
}

var manifestColumns = []string{"name", "roll_number", "class_name", "images"}

// parseManifest reads manifest rows. The header row is optional.
func parseManifest(r io.Reader) ([]importRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(manifestColumns)
	cr.TrimLeadingSpace = true

	var rows []importRow
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), manifestColumns[0]) {
			continue
		}

		var images []string
		for img := range strings.SplitSeq(rec[3], ";") {
			if img = strings.TrimSpace(img); img != "" {
				images = append(images, img)
			}
		}
		if len(images) == 0 {
			return nil, fmt.Errorf("manifest line %d: no images", line)
		}
		if len(images) > constants.MaxReferenceImages {
			return nil, fmt.Errorf("manifest line %d: too many images (max %d)", line, constants.MaxReferenceImages)
		}
		rows = append(rows, importRow{
			Line: line,
			Meta: database.StudentMeta{
				Name:       strings.TrimSpace(rec[0]),
				RollNumber: strings.TrimSpace(rec[1]),
				ClassName:  strings.TrimSpace(rec[2]),
			},
			Images: images,
		})
	}
	return rows, nil
}

// importResult tallies a bulk enrollment.
type importResult struct {
	Enrolled int
	Failed   []string
}

// importStudents enrolls rows with a bounded worker pool. progress is called once per row.
func importStudents(ctx context.Context, svc *attendance.Service, dir string, rows []importRow, concurrency int, progress func()) importResult {
	var (
		result importResult
		mu     sync.Mutex
		wg     sync.WaitGroup
	)
	sem := make(chan struct{}, max(1, concurrency))

	for _, row := range rows {
		wg.Go(func() {
			sem <- struct{}{}
			defer func() { <-sem }()

			err := importRowImages(ctx, svc, dir, row)

			mu.Lock()
			if err != nil {
				result.Failed = append(result.Failed, fmt.Sprintf("line %d (%s): %v", row.Line, row.Meta.Name, err))
			} else {
				result.Enrolled++
			}
			mu.Unlock()
			if progress != nil {
				progress()
			}
		})
	}
	wg.Wait()
	return result
}

func importRowImages(ctx context.Context, svc *attendance.Service, dir string, row importRow) error {
	images := make([][]byte, len(row.Images))
	for i, name := range row.Images {
		data, err := os.ReadFile(filepath.Join(dir, filepath.Clean(name)))
		if err != nil {
			return err
		}
		images[i] = data
	}
	if _, err := svc.Enroll(ctx, row.Meta, images...); err != nil {
		return fmt.Errorf("%s: %w", attendance.ReasonFor(err), err)
	}
	return nil
}

func runStudentsImport(cmd *cobra.Command, args []string) error {
	dir := args[0]
	manifestPath := mustGetString(cmd, "manifest")
	if !filepath.IsAbs(manifestPath) {
		manifestPath = filepath.Join(dir, manifestPath)
	}

	f, err := os.Open(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	rows, err := parseManifest(f)
	f.Close()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("Manifest is empty")
		return nil
	}

	ctx := context.Background()
	svc, backend, err := newService(ctx, config.Load())
	if err != nil {
		return err
	}
	defer backend.Close()

	fmt.Printf("Enrolling %d students from %s\n\n", len(rows), dir)
	bar := progressbar.NewOptions(len(rows),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("students"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	result := importStudents(ctx, svc, dir, rows, mustGetInt(cmd, "concurrency"), func() { bar.Add(1) })
	fmt.Println()

	fmt.Printf("\nCompleted: %d enrolled, %d failed\n", result.Enrolled, len(result.Failed))
	for _, msg := range result.Failed {
		fmt.Printf("  %s\n", msg)
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d students failed to enroll", len(result.Failed))
	}
	return nil
}
