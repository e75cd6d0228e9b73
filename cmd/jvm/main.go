// Command jvm is the embeddable VM's command-line front end: it wires a
// classpath/jmod loader into internal/bootstrap and runs a class's
// public static void main(String[]).
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/oakvm/jvm/internal/bootstrap"
	"github.com/oakvm/jvm/internal/classarea"
)

func findJmodPath() string {
	if env := os.Getenv("JAVA_BASE_JMOD"); env != "" {
		return env
	}
	if javaHome := os.Getenv("JAVA_HOME"); javaHome != "" {
		p := filepath.Join(javaHome, "jmods", "java.base.jmod")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	matches, _ := filepath.Glob("/usr/lib/jvm/java-*-openjdk-*/jmods/java.base.jmod")
	if len(matches) > 0 {
		return matches[0]
	}
	return ""
}

func main() {
	var (
		classpath string
		jmodPath  string
		verbose   bool
	)

	root := &cobra.Command{
		Use:   "jvm <class> [args...]",
		Short: "run a class file's public static void main(String[])",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
			entry := logrus.NewEntry(log)

			if jmodPath == "" {
				jmodPath = findJmodPath()
			}
			if jmodPath == "" {
				return fmt.Errorf("could not find java.base.jmod; set --jmod, JAVA_HOME, or JAVA_BASE_JMOD")
			}
			if classpath == "" {
				classpath = "."
			}

			bootLoader := classarea.NewJmodLoader(jmodPath)
			loader := classarea.NewClasspathLoader(classpath, bootLoader)

			v := bootstrap.New(loader, entry)
			th := v.NewThread()
			if err := v.Init(th); err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			if verbose {
				s := v.Area.Stats()
				entry.WithFields(logrus.Fields{"loaded": s.Loaded, "initialized": s.Initialized, "errored": s.Errored}).Info("class area")
			}

			className := args[0]
			if err := v.RunMain(th, className, args[1:]); err != nil {
				return fmt.Errorf("executing %s: %w", className, err)
			}
			return nil
		},
	}

	root.Flags().StringVarP(&classpath, "classpath", "c", ".", "directory to search for application classes")
	root.Flags().StringVar(&jmodPath, "jmod", "", "path to java.base.jmod (default: $JAVA_HOME or a system search)")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "jvm:", err)
		os.Exit(1)
	}
}
