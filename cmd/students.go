package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/config"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/facematch"
	"github.com/spf13/cobra"
)

var studentsCmd = &cobra.Command{
	Use:   "students",
	Short: "Manage enrolled students",
}

var studentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active students",
	Long: `List active students ordered by class and roll number.

Examples:
  face-attendance students list
  face-attendance students list --class 10A
  face-attendance students list --search novak --json`,
	Args: cobra.NoArgs,
	RunE: runStudentsList,
}

var studentsRemoveCmd = &cobra.Command{
	Use:   "remove <student-id>",
	Short: "Remove a student from matching (attendance history is kept)",
	Args:  cobra.ExactArgs(1),
	RunE:  runStudentsRemove,
}

var studentsEnrollCmd = &cobra.Command{
	Use:   "enroll <image>...",
	Short: "Enroll a student from one or more reference photos",
	Long: `Enroll a new student. Every photo must contain exactly one face.
With --id, the photos are appended as extra references to an existing student.

Examples:
  face-attendance students enroll --name "Jana Nová" --roll 12 --class 10A jana1.jpg jana2.jpg
  face-attendance students enroll --id 6f1c... jana3.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStudentsEnroll,
}

func init() {
	rootCmd.AddCommand(studentsCmd)
	studentsCmd.AddCommand(studentsListCmd, studentsRemoveCmd, studentsEnrollCmd)

	studentsListCmd.Flags().String("class", "", "Only students of this class")
	studentsListCmd.Flags().String("search", "", "Filter by name or roll number")
	studentsListCmd.Flags().Bool("json", false, "Output as JSON")

	studentsEnrollCmd.Flags().String("name", "", "Student name")
	studentsEnrollCmd.Flags().String("roll", "", "Roll number, unique within the class")
	studentsEnrollCmd.Flags().String("class", "", "Class name")
	studentsEnrollCmd.Flags().String("id", "", "Add references to this existing student instead")
}

func runStudentsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, backend, err := newService(ctx, config.Load())
	if err != nil {
		return err
	}
	defer backend.Close()

	students, err := svc.List(ctx)
	if err != nil {
		return err
	}
	class := mustGetString(cmd, "class")
	search := mustGetString(cmd, "search")
	filtered := students[:0]
	for _, st := range students {
		if class != "" && st.ClassName != class {
			continue
		}
		if !facematch.MatchesSearch(search, st.Name, st.RollNumber) {
			continue
		}
		filtered = append(filtered, st)
	}

	if mustGetBool(cmd, "json") {
		return printStudentsJSON(filtered)
	}
	if len(filtered) == 0 {
		fmt.Println("No students found")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCLASS\tROLL\tNAME\tREFS\tREGISTERED")
	for _, st := range filtered {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			st.ID, st.ClassName, st.RollNumber, st.Name, len(st.Embeddings), st.RegisteredAt.Format("2006-01-02"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d students\n", len(filtered))
	return nil
}

func printStudentsJSON(students []database.Student) error {
	type entry struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		RollNumber string `json:"roll_number"`
		ClassName  string `json:"class_name"`
		References int    `json:"references"`
	}
	out := make([]entry, len(students))
	for i, st := range students {
		out[i] = entry{st.ID, st.Name, st.RollNumber, st.ClassName, len(st.Embeddings)}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runStudentsRemove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, backend, err := newService(ctx, config.Load())
	if err != nil {
		return err
	}
	defer backend.Close()

	if err := svc.Remove(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed student %s\n", args[0])
	return nil
}

func runStudentsEnroll(cmd *cobra.Command, args []string) error {
	images := make([][]byte, len(args))
	for i, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		images[i] = data
	}

	ctx := context.Background()
	svc, backend, err := newService(ctx, config.Load())
	if err != nil {
		return err
	}
	defer backend.Close()

	var st *database.Student
	if id := mustGetString(cmd, "id"); id != "" {
		for i, img := range images {
			if st, err = svc.AddReference(ctx, id, img); err != nil {
				return fmt.Errorf("%s: %w", args[i], err)
			}
		}
	} else {
		meta := database.StudentMeta{
			Name:       mustGetString(cmd, "name"),
			RollNumber: mustGetString(cmd, "roll"),
			ClassName:  mustGetString(cmd, "class"),
		}
		if st, err = svc.Enroll(ctx, meta, images...); err != nil {
			return err
		}
	}

	fmt.Printf("Enrolled %s (%s, roll %s) with %d references\n", st.Name, st.ID, st.RollNumber, len(st.Embeddings))
	return nil
}
