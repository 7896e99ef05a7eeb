package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/vrepper/internal/remoteapi"
	"github.com/psantana5/vrepper/internal/session"
	"github.com/psantana5/vrepper/internal/shutdown"
)

var objectNames []string

// objectsCmd represents the objects command
var objectsCmd = &cobra.Command{
	Use:   "objects",
	Short: "List the objects of a scene",
	Long: `Starts a simulator, optionally loads a scene, and prints the handle and pose
of every object in it (or only of the objects named with --name).`,
	RunE: runObjects,
}

func init() {
	rootCmd.AddCommand(objectsCmd)

	f := objectsCmd.Flags()
	f.String("scene", "", "scene file to load first")
	f.Int("port", 0, "remote API port (default random in 19999-20998)")
	f.String("executable", "", "simulator executable")
	f.Bool("headless", false, "run the simulator without a GUI")
	f.StringSliceVar(&objectNames, "name", nil, "resolve these object names instead of listing all")
	f.BoolVar(&dryRun, "dry-run", false, "list the objects of an in-memory stand-in instead of launching the simulator")

	bindFlag(objectsCmd, "port", "simulator.port")
	bindFlag(objectsCmd, "executable", "simulator.executable")
	bindFlag(objectsCmd, "headless", "simulator.headless")
}

type objectInfo struct {
	Handle      remoteapi.Handle `json:"handle"`
	Name        string           `json:"name,omitempty"`
	Position    remoteapi.Vec3   `json:"position"`
	Orientation remoteapi.Vec3   `json:"orientation"`
}

func runObjects(cmd *cobra.Command, args []string) error {
	mgr := shutdown.New(30*time.Second, log)
	defer mgr.Shutdown()
	ctx, stop := mgr.NotifyContext(cmd.Context())
	defer stop()

	env, err := startSession(ctx, mgr, nil)
	if err != nil {
		return err
	}
	sess := env.sess

	if scene, _ := cmd.Flags().GetString("scene"); scene != "" {
		if !sess.LoadScene(ctx, scene) {
			return fmt.Errorf("could not load scene %s", scene)
		}
	}

	infos, err := collectObjects(ctx, sess, objectNames)
	if err != nil {
		return err
	}
	if err := sess.End(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	if IsJSONOutput() {
		out, err := json.MarshalIndent(infos, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Handle", "Name", "Position", "Orientation")
	for _, o := range infos {
		table.Append(
			fmt.Sprintf("%d", o.Handle),
			o.Name,
			formatVec(o.Position),
			formatVec(o.Orientation),
		)
	}
	table.Render()
	fmt.Printf("\n%d objects\n", len(infos))
	return nil
}

func collectObjects(ctx context.Context, sess *session.Session, names []string) ([]objectInfo, error) {
	var objs []*session.Object
	if len(names) > 0 {
		for _, name := range names {
			obj, err := sess.ObjectByName(ctx, name)
			if err != nil {
				return nil, err
			}
			objs = append(objs, obj)
		}
	} else {
		handles, err := sess.Objects(ctx, remoteapi.ObjectTypeAll)
		if err != nil {
			return nil, err
		}
		for _, h := range handles {
			objs = append(objs, sess.ObjectByHandle(h))
		}
	}

	infos := make([]objectInfo, 0, len(objs))
	for i, obj := range objs {
		pos, err := obj.Position(ctx, nil)
		if err != nil {
			return nil, err
		}
		ornt, err := obj.Orientation(ctx, nil)
		if err != nil {
			return nil, err
		}
		info := objectInfo{Handle: obj.Handle(), Position: pos, Orientation: ornt}
		if len(names) > 0 {
			info.Name = names[i]
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func formatVec(v remoteapi.Vec3) string {
	return fmt.Sprintf("%.3f, %.3f, %.3f", v[0], v[1], v[2])
}
