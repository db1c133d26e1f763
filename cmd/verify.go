package main

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"github.com/cwbudde/marchingcubes/internal/mc"
	"github.com/cwbudde/marchingcubes/internal/runner"
	"github.com/cwbudde/marchingcubes/internal/store"
	"github.com/spf13/cobra"
)

var (
	refPath       string
	gotPath       string
	refKind       string
	epsilon       float64
	threshold     float64
	verifyBackend string
)

var verifyCmd = &cobra.Command{
	Use:   "verify [run-id]",
	Short: "Verify a stored run or compare a dump against a reference",
	Long: `Without --ref, reruns a stored run from its manifest and requires the
regenerated artifacts to be bit-identical to the stored ones. --backend
reruns on a different backend.

With --ref, compares a reference dump element-wise against the matching
artifact of a run (or --got file). An element mismatches when it differs by
more than --epsilon; the comparison fails when the fraction of mismatches
reaches --threshold.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&refPath, "ref", "", "Reference dump")
	verifyCmd.Flags().StringVar(&gotPath, "got", "", "Dump to compare instead of a run artifact")
	verifyCmd.Flags().StringVar(&refKind, "kind", "pos", "Dump kind: pos, normal or voxel")
	verifyCmd.Flags().Float64Var(&epsilon, "epsilon", 5.0, "Per-element tolerance")
	verifyCmd.Flags().Float64Var(&threshold, "threshold", 0.30, "Allowed fraction of mismatching elements")
	verifyCmd.Flags().StringVar(&verifyBackend, "backend", "", "Backend for the rerun (default: the stored one)")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	if refPath != "" {
		return runCompare(args)
	}
	if len(args) != 1 {
		return fmt.Errorf("verify needs a run ID or --ref")
	}

	fsStore, err := openStore()
	if err != nil {
		return err
	}
	manifest, err := fsStore.LoadRun(args[0])
	if err != nil {
		return err
	}

	ec := manifest.Config
	if verifyBackend != "" {
		ec.Backend = verifyBackend
	}
	out, err := runner.Run(cmd.Context(), ec, runner.Options{})
	if err != nil {
		return fmt.Errorf("rerun failed: %w", err)
	}

	debug := slices.ContainsFunc(manifest.Artifacts, func(a store.ArtifactInfo) bool {
		return a.Name == runner.VoxelVertsFile
	})
	fresh := runner.Artifacts(out, debug)

	mismatches := 0
	for _, a := range manifest.Artifacts {
		stored, err := fsStore.ReadArtifact(manifest.RunID, a.Name)
		if err != nil {
			return err
		}
		regenerated, ok := fresh[a.Name]
		switch {
		case !ok:
			fmt.Printf("  %-22s missing from rerun\n", a.Name)
			mismatches++
		case !bytes.Equal(stored, regenerated):
			fmt.Printf("  %-22s DIFFERS (%d vs %d bytes)\n", a.Name, len(stored), len(regenerated))
			mismatches++
		default:
			fmt.Printf("  %-22s identical\n", a.Name)
		}
	}

	if mismatches > 0 {
		return fmt.Errorf("run %s: %d artifact(s) differ", manifest.RunID, mismatches)
	}
	fmt.Printf("Run %s verified on backend %s\n", manifest.RunID, out.Backend)
	return nil
}

func dumpArtifact(kind string) (string, error) {
	switch kind {
	case "pos":
		return runner.PositionsFile, nil
	case "normal":
		return runner.NormalsFile, nil
	case "voxel":
		return runner.CompactedFile, nil
	default:
		return "", fmt.Errorf("unknown dump kind %q (want pos, normal or voxel)", kind)
	}
}

// decodeDump reads a dump as float64 values: float32 for geometry, uint32
// for voxel indices.
func decodeDump(kind string, data []byte) ([]float64, error) {
	if kind == "voxel" {
		vs, err := mc.DecodeUint32(data)
		if err != nil {
			return nil, err
		}
		return mc.Uint32sToFloat64(vs), nil
	}
	vs, err := mc.DecodeFloat32(data)
	if err != nil {
		return nil, err
	}
	return mc.Float32sToFloat64(vs), nil
}

func runCompare(args []string) error {
	name, err := dumpArtifact(refKind)
	if err != nil {
		return err
	}
	refData, err := os.ReadFile(refPath)
	if err != nil {
		return fmt.Errorf("failed to read reference: %w", err)
	}

	var gotData []byte
	switch {
	case gotPath != "":
		gotData, err = os.ReadFile(gotPath)
	case len(args) == 1:
		var fsStore *store.FSStore
		fsStore, err = openStore()
		if err == nil {
			gotData, err = fsStore.ReadArtifact(args[0], name)
		}
	default:
		return fmt.Errorf("--ref needs a run ID or --got")
	}
	if err != nil {
		return err
	}

	ref, err := decodeDump(refKind, refData)
	if err != nil {
		return fmt.Errorf("reference: %w", err)
	}
	got, err := decodeDump(refKind, gotData)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	cmp := mc.Compare(ref, got, epsilon, threshold)
	fmt.Printf("%s: %d elements, %d mismatches, max diff %g (epsilon %g, threshold %.2f)\n",
		name, cmp.Elements, cmp.Mismatches, cmp.MaxDiff, cmp.Epsilon, cmp.Threshold)
	if !cmp.Pass {
		return fmt.Errorf("%s does not match the reference", name)
	}
	fmt.Println("PASSED")
	return nil
}
