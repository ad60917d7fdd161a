package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vheikkil/gdrive-go/internal/remote"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Display file or folder metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: "Download a file (resumes a partial download)",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runGet,
	}
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-path> [remote-path]",
		Short: "Upload a file (resumes an interrupted upload)",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runPut,
	}
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder (recursive, idempotent)",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}
}

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or folder",
		Long: `Delete a file or folder on Drive. Folder deletion is recursive — all
contents are deleted. Use --recursive (-r) to confirm intent when deleting
folders.`,
		Args: cobra.ExactArgs(1),
		RunE: runRm,
	}

	cmd.Flags().BoolP("recursive", "r", false, "confirm recursive folder deletion")

	return cmd
}

// cleanRemotePath strips leading/trailing slashes; "" means root.
func cleanRemotePath(path string) string {
	return strings.Trim(path, "/")
}

// splitParentAndName splits a remote path into parent path and final name.
// "foo/bar/baz" -> ("foo/bar", "baz"); "baz" -> ("", "baz").
func splitParentAndName(path string) (string, string) {
	clean := cleanRemotePath(path)

	idx := strings.LastIndex(clean, "/")
	if idx < 0 {
		return "", clean
	}

	return clean[:idx], clean[idx+1:]
}

// resolveNode resolves a remote path against the session root. Root itself
// for "" or "/". A missing entry is reported as an error here — the CLI has
// nothing useful to do with nil.
func resolveNode(ctx context.Context, sess *cliSession, remotePath string) (*remote.Node, error) {
	clean := cleanRemotePath(remotePath)
	if clean == "" {
		return sess.root, nil
	}

	node, err := sess.root.ResolvePath(ctx, clean)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", remotePath, err)
	}

	if node == nil {
		return nil, fmt.Errorf("%q not found", remotePath)
	}

	return node, nil
}

func runLs(cmd *cobra.Command, args []string) error {
	remotePath := "/"
	if len(args) > 0 {
		remotePath = args[0]
	}

	ctx := cmd.Context()

	sess, err := newCLISession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	node, err := resolveNode(ctx, sess, remotePath)
	if err != nil {
		return err
	}

	entries, err := node.List(ctx)
	if err != nil {
		return fmt.Errorf("listing %q: %w", remotePath, err)
	}

	if flagJSON {
		return printNodesJSON(entries)
	}

	printNodesTable(entries)

	return nil
}

// nodeJSON is the JSON output schema for a single entry.
type nodeJSON struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	IsFolder bool   `json:"is_folder"`
	ID       string `json:"id"`
}

func toNodeJSON(n *remote.Node) nodeJSON {
	return nodeJSON{
		Name:     n.Name(),
		Size:     n.Size(),
		IsFolder: n.IsFolder(),
		ID:       n.ID(),
	}
}

func printNodesJSON(nodes []*remote.Node) error {
	out := make([]nodeJSON, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, toNodeJSON(n))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printNodesTable(nodes []*remote.Node) {
	// Folders first, then alphabetical.
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].IsFolder() != nodes[j].IsFolder() {
			return nodes[i].IsFolder()
		}

		return nodes[i].Name() < nodes[j].Name()
	})

	headers := []string{"NAME", "SIZE"}
	rows := make([][]string, 0, len(nodes))

	for _, n := range nodes {
		name := n.Name()
		size := formatSize(n.Size())

		if n.IsFolder() {
			name += "/"
			size = "-"
		}

		rows = append(rows, []string{name, size})
	}

	printTable(os.Stdout, headers, rows)
}

func runStat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sess, err := newCLISession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	node, err := resolveNode(ctx, sess, args[0])
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(toNodeJSON(node))
	}

	fmt.Printf("Name: %s\n", node.Name())
	fmt.Printf("Kind: %s\n", node.Kind())
	fmt.Printf("ID:   %s\n", node.ID())

	if !node.IsFolder() {
		fmt.Printf("Size: %s (%d bytes)\n", formatSize(node.Size()), node.Size())
	}

	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	remotePath := args[0]
	ctx := cmd.Context()

	sess, err := newCLISession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	node, err := resolveNode(ctx, sess, remotePath)
	if err != nil {
		return err
	}

	if node.IsFolder() {
		return fmt.Errorf("%q is a folder, not a file", remotePath)
	}

	localPath := node.Name()
	if len(args) > 1 {
		localPath = args[1]
	}

	if err := node.Download(ctx, localPath, sess.transferOptions(localPath)); err != nil {
		// Partial bytes stay on disk; re-running resumes from them.
		if fi, statErr := os.Stat(localPath); statErr == nil && fi.Size() > 0 {
			statusf("Partial download saved: %s (%s)\n", localPath, formatSize(fi.Size()))
			statusf("Re-run the same command to resume.\n")
		}

		return err
	}

	statusf("Downloaded %s (%s)\n", localPath, formatSize(node.Size()))

	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	localPath := args[0]
	ctx := cmd.Context()

	remotePath := filepath.Base(localPath)
	if len(args) > 1 {
		remotePath = args[1]
	}

	sess, err := newCLISession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	parentPath, name := splitParentAndName(remotePath)
	if name == "" {
		return fmt.Errorf("invalid remote path %q", remotePath)
	}

	parent, err := resolveNode(ctx, sess, parentPath)
	if err != nil {
		return err
	}

	// A remote path naming an existing folder means "upload into it".
	if existing, childErr := parent.Child(ctx, name); childErr != nil {
		return childErr
	} else if existing != nil && existing.IsFolder() {
		parent = existing
		name = filepath.Base(localPath)
	}

	node, err := parent.Upload(ctx, localPath, name, sess.transferOptions(name))
	if err != nil {
		return err
	}

	statusf("Uploaded %s (%s)\n", node.Name(), formatSize(node.Size()))

	return nil
}

func runMkdir(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sess, err := newCLISession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	clean := cleanRemotePath(args[0])
	if clean == "" {
		return fmt.Errorf("cannot mkdir the root")
	}

	node, err := sess.root.MkdirAll(ctx, clean)
	if err != nil {
		return err
	}

	statusf("Created %s/\n", node.Name())

	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	recursive, err := cmd.Flags().GetBool("recursive")
	if err != nil {
		return err
	}

	// Covers both the drive root and a configured root_folder.
	if cleanRemotePath(args[0]) == "" {
		return fmt.Errorf("refusing to delete the root folder")
	}

	sess, err := newCLISession(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	node, err := resolveNode(ctx, sess, args[0])
	if err != nil {
		return err
	}

	if node.IsFolder() && !recursive {
		return fmt.Errorf("%q is a folder; pass --recursive to delete it and its contents", args[0])
	}

	if err := node.Remove(ctx); err != nil {
		return err
	}

	statusf("Deleted %s\n", args[0])

	return nil
}
