package main

// This file contains the template management commands.

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"htmlporter/internal/ux"
)

var (
	useLine     int
	useTemplate string
	untargetOf  string
	initForce   bool
)

// initCmd writes a default config file
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file into the workspace",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

// addCmd registers a template
var addCmd = &cobra.Command{
	Use:   "add [file]",
	Short: "Mark an HTML file as a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdd,
}

// useCmd inserts a template
var useCmd = &cobra.Command{
	Use:   "use [file]",
	Short: "Insert a template into a file at an empty line",
	Long: `Inserts a registered template into the file at the given empty line and
records the file as a target of that template. Without --template an
interactive list of templates is shown.

Example:
  porter use pages/about.html --line 12 --template partials/nav.html`,
	Args: cobra.ExactArgs(1),
	RunE: runUse,
}

// updateCmd forces propagation of every template
var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Re-propagate every template into all of its targets",
	Args:  cobra.NoArgs,
	RunE:  runUpdate,
}

// untargetCmd detaches a target
var untargetCmd = &cobra.Command{
	Use:   "untarget [file]",
	Short: "Stop propagating a template into a file and strip its block",
	Args:  cobra.ExactArgs(1),
	RunE:  runUntarget,
}

// listCmd shows the registry
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates and the state of their targets",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")

	useCmd.Flags().IntVarP(&useLine, "line", "l", 0, "1-based line to insert at (must be empty)")
	useCmd.Flags().StringVarP(&useTemplate, "template", "t", "", "Template to insert (default: prompt)")
	_ = useCmd.MarkFlagRequired("line")

	untargetCmd.Flags().StringVarP(&untargetOf, "template", "t", "", "Template to detach from (required)")
	_ = untargetCmd.MarkFlagRequired("template")
}

func runInit(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	path := a.cfgPath
	if _, err := os.Stat(path); err == nil && !initForce {
		a.notify.Warn(fmt.Sprintf("Config already exists at %s (use --force to overwrite).", path))
		return nil
	}
	if err := a.cfg.Save(path); err != nil {
		return err
	}
	a.notify.Info(fmt.Sprintf("Wrote %s", path))
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	return a.svc.AddTemplate(cmd.Context(), args[0])
}

func runUse(cmd *cobra.Command, args []string) error {
	// The prompt is only shown when --template is not given.
	a, err := newApp(cmd, ux.SurveyPicker{PageSize: 15})
	if err != nil {
		return err
	}
	return a.svc.UseTemplate(cmd.Context(), args[0], useLine, useTemplate)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	return a.svc.UpdateTemplates(cmd.Context())
}

func runUntarget(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	return a.svc.Untarget(cmd.Context(), args[0], untargetOf)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	list, err := a.svc.List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		a.notify.Info("No templates registered.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TEMPLATE\tTARGET\tSTATE")
	for _, tmpl := range list {
		state := "ok"
		if !tmpl.Exists {
			state = "missing"
		}
		fmt.Fprintf(tw, "%s\t\t%s\n", tmpl.Path, state)
		for _, target := range tmpl.Targets {
			switch {
			case !target.Exists:
				state = "missing"
			case target.Blocks == 0:
				state = "no block"
			case target.Blocks > 1:
				state = fmt.Sprintf("%d blocks", target.Blocks)
			default:
				state = "ok"
			}
			fmt.Fprintf(tw, "\t%s\t%s\n", target.Path, state)
		}
	}
	return tw.Flush()
}
