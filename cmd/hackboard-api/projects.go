package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/config"
	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/hackathon"
	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/sheetclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newProjectsCommand(configViper *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Manage hackathon projects on a running backend",
	}
	cmd.AddCommand(
		newProjectsListCommand(configViper),
		newProjectsAddCommand(configViper),
		newProjectsRemoveCommand(configViper),
		newProjectsJoinCommand(configViper),
		newProjectsLockCommand(configViper, true),
		newProjectsLockCommand(configViper, false),
	)
	return cmd
}

func newProjectsListCommand(configViper *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			directory, err := openRemoteDirectory(cmd.Context(), configViper)
			if err != nil {
				return err
			}
			for _, project := range directory.Projects() {
				printProject(cmd.OutOrStdout(), project)
			}
			return nil
		},
	}
}

func newProjectsAddCommand(configViper *viper.Viper) *cobra.Command {
	var description string
	var members []string

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			directory, err := openRemoteDirectory(cmd.Context(), configViper)
			if err != nil {
				return err
			}
			project, err := directory.AddProject(cmd.Context(), hackathon.ProjectInput{
				Name:        args[0],
				Description: description,
				Members:     members,
			})
			if err != nil {
				return err
			}
			printProject(cmd.OutOrStdout(), project)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Project description")
	cmd.Flags().StringSliceVar(&members, "member", nil, "Member email (repeatable)")
	return cmd
}

func newProjectsRemoveCommand(configViper *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "remove PROJECT",
		Short: "Remove a project by id or name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			directory, err := openRemoteDirectory(cmd.Context(), configViper)
			if err != nil {
				return err
			}
			if err := directory.RemoveProject(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newProjectsJoinCommand(configViper *viper.Viper) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "join PROJECT EMAIL",
		Short: "Assign a hacker to a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			directory, err := openRemoteDirectory(cmd.Context(), configViper)
			if err != nil {
				return err
			}
			hacker, err := directory.JoinProject(cmd.Context(), args[1], name, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s joined %s\n", hacker.Email, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Hacker display name")
	return cmd
}

func newProjectsLockCommand(configViper *viper.Viper, locked bool) *cobra.Command {
	use, short := "lock PROJECT", "Lock a project's membership"
	if !locked {
		use, short = "unlock PROJECT", "Unlock a project's membership"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			directory, err := openRemoteDirectory(cmd.Context(), configViper)
			if err != nil {
				return err
			}
			project, err := directory.SetLocked(cmd.Context(), args[0], locked)
			if err != nil {
				return err
			}
			printProject(cmd.OutOrStdout(), project)
			return nil
		},
	}
}

func openRemoteDirectory(ctx context.Context, configViper *viper.Viper) (*hackathon.Directory, error) {
	clientConfig, err := config.LoadClient(configViper)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewCommandLogger(clientConfig.LogLevel)
	if err != nil {
		return nil, err
	}
	client, err := sheetclient.New(sheetclient.Config{
		BaseURL: clientConfig.BackendURL,
		Token:   clientConfig.Token,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return hackathon.OpenDirectory(ctx, hackathon.DirectoryConfig{Backend: client, Logger: logger})
}

func printProject(out io.Writer, project hackathon.Project) {
	state := "open"
	if project.Locked {
		state = "locked"
	}
	fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", project.ID, project.Name, state, strings.Join(project.Members, ","))
}
