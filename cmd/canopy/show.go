package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/canopyhq/canopy/pkg/domain"
)

var showCmd = &cobra.Command{
	Use:   "show <tree.json>",
	Short: "Render a serialized tree as a markdown outline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read tree: %w", err)
		}
		tree, err := domain.Deserialize(string(data))
		if err != nil {
			return fmt.Errorf("parse tree: %w", err)
		}
		return renderMarkdown(treeMarkdown(tree))
	},
}

// treeMarkdown lays the tree out as a nested bullet list.
func treeMarkdown(t *domain.Tree) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", t.ID())

	var walk func(id domain.NodeID, depth int)
	walk = func(id domain.NodeID, depth int) {
		n, ok := t.Node(id)
		if !ok {
			return
		}
		name := n.Name
		if name == "" {
			name = string(n.ID)
		}
		fmt.Fprintf(&b, "%s- **%s**", strings.Repeat("  ", depth), name)
		if n.Type != "" && n.Type != domain.NodeTypeTopic {
			fmt.Fprintf(&b, " _(%s)_", n.Type)
		}
		b.WriteString("\n")
		for _, cid := range n.Children {
			walk(cid, depth+1)
		}
	}
	walk(t.RootID(), 0)
	return b.String()
}

// renderMarkdown writes md to stdout, styled when stdout is a terminal.
func renderMarkdown(md string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Print(md)
		return nil
	}

	style := "light"
	if termenv.HasDarkBackground() {
		style = "dark"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Print(md)
		return nil
	}
	out, err := r.Render(md)
	if err != nil {
		fmt.Print(md)
		return nil
	}
	fmt.Print(out)
	return nil
}

func init() {
	rootCmd.AddCommand(showCmd)
}
