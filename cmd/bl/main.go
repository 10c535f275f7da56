package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"boardline/internal/app"
	"boardline/internal/authz"
	"boardline/internal/config"
	"boardline/internal/db"
	"boardline/internal/domain"
	"boardline/internal/server"
	"boardline/internal/state"
	"boardline/internal/tui"
	boardlinesdk "boardline/sdk/go"
)

const envProject = "BOARDLINE_PROJECT"

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Boardline CLI",
	Long: `Boardline is a Kanban board client.
- Projects hold tasks; tasks move TODO -> DOING -> DONE.
- Administrators manage projects and members and may act as another user (bl impersonate).
- Members create tasks; a task's assignee (or an administrator) updates, moves and deletes it.
- bl serve runs a local development backend.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load .env: %w", err)
		}
		slog.SetDefault(newLogger(viper.GetString("log-level")))
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BOARDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides bl project use)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(impersonateCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// --- session ---

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create boardline.yml and the local workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			secret := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
			if err := os.WriteFile(path, []byte(config.GenerateDefault(secret)), 0o600); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func loginCmd() *cobra.Command {
	var token, devEmail, devName string
	var devAdmin bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with a provider token (or a development token)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := app.Open(ctx, viper.GetString("workspace"), slog.Default())
			if err != nil {
				return err
			}
			defer c.Close()
			if token == "" && devEmail != "" {
				req := boardlinesdk.DevLoginRequest{Subject: devEmail, Email: devEmail, Name: devName}
				if devAdmin {
					req.Roles = []string{string(domain.RoleAdmin)}
				}
				if token, err = c.API.DevLogin(ctx, req); err != nil {
					return fmt.Errorf("dev login: %w", err)
				}
			}
			if token == "" {
				return fmt.Errorf("--token or --dev-email required")
			}
			s, err := c.Login(ctx, token)
			if err != nil {
				return err
			}
			return printWhoami(s)
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "raw ID token")
	cmd.Flags().StringVar(&devEmail, "dev-email", "", "mint a development token for this email (bl serve backends)")
	cmd.Flags().StringVar(&devName, "dev-name", "", "display name for --dev-email")
	cmd.Flags().BoolVar(&devAdmin, "dev-admin", false, "assert the ADMIN role in the development token")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.Open(cmd.Context(), viper.GetString("workspace"), slog.Default())
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Signed out")
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				return printWhoami(c.Store.Snapshot())
			})
		},
	}
}

func printWhoami(s state.State) error {
	out := map[string]any{
		"user":            s.User,
		"role":            authz.RoleDisplayName(authz.FromState(s).Role()),
		"isImpersonating": s.IsImpersonating,
	}
	if s.IsImpersonating {
		out["originalUser"] = s.OriginalUser
	}
	if viper.GetBool("json") {
		return printJSON(out)
	}
	if s.User == nil {
		fmt.Println("Not signed in")
		return nil
	}
	fmt.Printf("%s <%s> (id %d, %s)\n", s.User.DisplayName(), s.User.Email, s.User.ID, authz.RoleDisplayName(s.User.Role))
	if s.IsImpersonating && s.OriginalUser != nil {
		fmt.Printf("Impersonating; signed in as %s (id %d)\n", s.OriginalUser.DisplayName(), s.OriginalUser.ID)
	}
	return nil
}

// --- users ---

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage users"}
	usr.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				c.Actions.FetchUsers(ctx)
				s := c.Store.Snapshot()
				if err := stateError(s); err != nil {
					return err
				}
				return printUsers(s.Users)
			})
		},
	})
	usr.AddCommand(userUpdateCmd())
	return usr
}

func userUpdateCmd() *cobra.Command {
	var name, picture string
	cmd := &cobra.Command{
		Use:   "update [user-id]",
		Short: "Update a profile (defaults to the acting user)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				s := c.Store.Snapshot()
				id := s.User.ID
				if len(args) == 1 {
					parsed, err := parseID(args[0])
					if err != nil {
						return err
					}
					id = parsed
				}
				if id != s.User.ID && !authz.FromState(s).IsAdmin() {
					return authz.DeniedError{Action: "update another user's profile"}
				}
				var in domain.UserUpdate
				if cmd.Flags().Changed("name") {
					in.Name = &name
				}
				if cmd.Flags().Changed("picture") {
					in.PictureURL = &picture
				}
				u, err := c.Actions.UpdateProfile(ctx, id, in)
				if err != nil {
					return err
				}
				return printUsers([]domain.User{u})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&picture, "picture", "", "picture url")
	return cmd
}

// --- projects ---

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				c.Actions.FetchProjects(ctx)
				s := c.Store.Snapshot()
				if err := stateError(s); err != nil {
					return err
				}
				return printProjects(s.Projects)
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name required")
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				if !authz.FromState(c.Store.Snapshot()).CanCreateProject() {
					return authz.DeniedError{Action: "create project"}
				}
				p, err := c.Actions.CreateProject(ctx, domain.ProjectInput{Name: name, Description: optionalString(desc)})
				if err != nil {
					return err
				}
				return printProjects([]domain.Project{p})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "update <project-id>",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				if !authz.FromState(c.Store.Snapshot()).CanUpdateProject() {
					return authz.DeniedError{Action: "update project"}
				}
				p, err := loadProject(ctx, c, args[0])
				if err != nil {
					return err
				}
				in := domain.ProjectInput{Name: p.Name, Description: p.Description}
				if cmd.Flags().Changed("name") {
					if strings.TrimSpace(name) == "" {
						return fmt.Errorf("--name must not be empty")
					}
					in.Name = name
				}
				if cmd.Flags().Changed("description") {
					in.Description = optionalString(desc)
				}
				updated, err := c.Actions.UpdateProject(ctx, p.ID, in)
				if err != nil {
					return err
				}
				return printProjects([]domain.Project{updated})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				if !authz.FromState(c.Store.Snapshot()).CanDeleteProject() {
					return authz.DeniedError{Action: "delete project"}
				}
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				if err := c.Actions.DeleteProject(ctx, id); err != nil {
					return err
				}
				fmt.Printf("Deleted project %d\n", id)
				return nil
			})
		},
	}
}

func projectUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <project-id>",
		Short: "Select the default project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				p, err := loadProject(ctx, c, args[0])
				if err != nil {
					return err
				}
				workspace := viper.GetString("workspace")
				if err := setEnvValue(filepath.Join(workspace, ".env"), envProject, strconv.FormatInt(p.ID, 10)); err != nil {
					return err
				}
				fmt.Printf("Using project %d (%s)\n", p.ID, p.Name)
				return nil
			})
		},
	}
}

// --- tasks ---

func taskCmd() *cobra.Command {
	tsk := &cobra.Command{Use: "task", Short: "Manage tasks"}
	tsk.AddCommand(taskListCmd())
	tsk.AddCommand(taskCreateCmd())
	tsk.AddCommand(taskUpdateCmd())
	tsk.AddCommand(taskMoveCmd())
	tsk.AddCommand(taskDeleteCmd())
	return tsk
}

func taskListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks of the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, c *app.Client, p domain.Project) error {
				s := c.Store.Snapshot()
				tasks := s.Tasks
				if status != "" {
					st, err := domain.ParseStatus(status)
					if err != nil {
						return err
					}
					tasks = s.TasksByStatus(st)
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var title, desc, status, priority string
	var assignee int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task in the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(title) == "" {
				return fmt.Errorf("--title required")
			}
			return withProject(cmd.Context(), func(ctx context.Context, c *app.Client, p domain.Project) error {
				if !projectChecker(ctx, c, p.ID).CanCreateTask(p.ID) {
					return authz.DeniedError{Action: "create task"}
				}
				in := domain.TaskInput{ProjectID: p.ID, Title: title, Description: optionalString(desc)}
				if status != "" {
					st, err := domain.ParseStatus(status)
					if err != nil {
						return err
					}
					in.Status = st
				}
				if priority != "" {
					pr, err := domain.ParsePriority(priority)
					if err != nil {
						return err
					}
					in.Priority = pr
				}
				if assignee > 0 {
					in.AssigneeID = domain.Int64Ptr(assignee)
				}
				t, err := c.Actions.CreateTask(ctx, in)
				if err != nil {
					return err
				}
				return printTasks([]domain.Task{t})
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "TODO, DOING or DONE")
	cmd.Flags().StringVar(&priority, "priority", "", "LOW, MEDIUM or HIGH")
	cmd.Flags().Int64Var(&assignee, "assignee", 0, "assignee user id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, desc, status, priority string
	var assignee int64
	var unassign bool
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTask(cmd.Context(), args[0], "update task", func(ctx context.Context, c *app.Client, t domain.Task) error {
				in := domain.TaskInput{
					ProjectID:   t.ProjectID,
					Title:       t.Title,
					Description: t.Description,
					Status:      t.Status,
					Priority:    t.Priority,
					AssigneeID:  t.AssigneeID,
				}
				if cmd.Flags().Changed("title") {
					if strings.TrimSpace(title) == "" {
						return fmt.Errorf("--title must not be empty")
					}
					in.Title = title
				}
				if cmd.Flags().Changed("description") {
					in.Description = optionalString(desc)
				}
				if cmd.Flags().Changed("status") {
					st, err := domain.ParseStatus(status)
					if err != nil {
						return err
					}
					in.Status = st
				}
				if cmd.Flags().Changed("priority") {
					pr, err := domain.ParsePriority(priority)
					if err != nil {
						return err
					}
					in.Priority = pr
				}
				if cmd.Flags().Changed("assignee") {
					in.AssigneeID = domain.Int64Ptr(assignee)
				}
				if unassign {
					in.AssigneeID = nil
				}
				updated, err := c.Actions.UpdateTask(ctx, t.ID, in)
				if err != nil {
					return err
				}
				return printTasks([]domain.Task{updated})
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "TODO, DOING or DONE")
	cmd.Flags().StringVar(&priority, "priority", "", "LOW, MEDIUM or HIGH")
	cmd.Flags().Int64Var(&assignee, "assignee", 0, "assignee user id")
	cmd.Flags().BoolVar(&unassign, "unassign", false, "clear the assignee")
	return cmd
}

func taskMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <task-id> <status>",
		Short: "Move a task to another column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := domain.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return withTask(cmd.Context(), args[0], "move task", func(ctx context.Context, c *app.Client, t domain.Task) error {
				updated, err := c.Actions.UpdateTaskStatus(ctx, t.ID, status)
				if err != nil {
					return err
				}
				return printTasks([]domain.Task{updated})
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTask(cmd.Context(), args[0], "delete task", func(ctx context.Context, c *app.Client, t domain.Task) error {
				if err := c.Actions.DeleteTask(ctx, t.ID); err != nil {
					return err
				}
				fmt.Printf("Deleted task %d\n", t.ID)
				return nil
			})
		},
	}
}

// --- members ---

func memberCmd() *cobra.Command {
	mem := &cobra.Command{Use: "member", Short: "Manage members of the current project"}
	mem.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, c *app.Client, p domain.Project) error {
				members, err := c.Actions.FetchProjectMembers(ctx, p.ID)
				if err != nil {
					return err
				}
				return printUsers(members)
			})
		},
	})
	mem.AddCommand(&cobra.Command{
		Use:   "add <user-id>",
		Short: "Add a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, c *app.Client, p domain.Project) error {
				if !authz.FromState(c.Store.Snapshot()).CanManageProjectMembers() {
					return authz.DeniedError{Action: "manage project members"}
				}
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				m, err := c.Actions.AddProjectMember(ctx, p.ID, id)
				if err != nil {
					return err
				}
				fmt.Printf("Added user %d to project %d\n", m.UserID, m.ProjectID)
				return nil
			})
		},
	})
	mem.AddCommand(&cobra.Command{
		Use:   "remove <user-id>",
		Short: "Remove a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, c *app.Client, p domain.Project) error {
				if !authz.FromState(c.Store.Snapshot()).CanManageProjectMembers() {
					return authz.DeniedError{Action: "manage project members"}
				}
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				if err := c.Actions.RemoveProjectMember(ctx, p.ID, id); err != nil {
					return err
				}
				fmt.Printf("Removed user %d from project %d\n", id, p.ID)
				return nil
			})
		},
	})
	return mem
}

// --- impersonation ---

func impersonateCmd() *cobra.Command {
	imp := &cobra.Command{Use: "impersonate", Short: "Act as another user (administrators)"}
	imp.AddCommand(&cobra.Command{
		Use:   "start <user-id>",
		Short: "Start acting as a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				if err := c.Actions.StartImpersonation(ctx, id); err != nil {
					return err
				}
				return printWhoami(c.Store.Snapshot())
			})
		},
	})
	imp.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Return to your own identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				if err := c.Actions.StopImpersonation(ctx); err != nil {
					return err
				}
				return printWhoami(c.Store.Snapshot())
			})
		},
	})
	imp.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show impersonation status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				return printWhoami(c.Store.Snapshot())
			})
		},
	})
	return imp
}

// --- board ---

func boardCmd() *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show the current project as a board",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, c *app.Client, p domain.Project) error {
				if interactive {
					return tui.Run(ctx, c.Actions, p)
				}
				s := c.Store.Snapshot()
				if viper.GetBool("json") {
					cols := map[domain.Status][]domain.Task{}
					for _, st := range domain.Statuses {
						cols[st] = nonNil(s.TasksByStatus(st))
					}
					return printJSON(cols)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle(p.Name)
				header := table.Row{}
				columns := make([][]domain.Task, len(domain.Statuses))
				rows := 0
				for i, st := range domain.Statuses {
					columns[i] = s.TasksByStatus(st)
					header = append(header, fmt.Sprintf("%s (%d)", st, len(columns[i])))
					rows = max(rows, len(columns[i]))
				}
				tw.AppendHeader(header)
				for r := 0; r < rows; r++ {
					row := table.Row{}
					for _, col := range columns {
						cell := ""
						if r < len(col) {
							cell = fmt.Sprintf("#%d %s", col[r].ID, col[r].Title)
						}
						row = append(row, cell)
					}
					tw.AppendRow(row)
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "open the interactive board")
	return cmd
}

func eventsCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail the backend audit log (administrators)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *app.Client) error {
				items, err := c.API.Events(ctx, evtType, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "On behalf of"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, optionalID(e.ActorID), optionalID(e.OnBehalfOf)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowSubject bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the development backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			handler, conn, err := app.OpenServer(cmd.Context(), workspace, cfg, app.ServerOptions{
				BasePath:           basePath,
				AllowSubjectHeader: allowSubject,
				Logger:             slog.Default(),
			})
			if err != nil {
				return err
			}
			defer conn.Close()
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Boardline API on %s%s (OpenAPI at %s/openapi.json)\n", server.BaseURL(addr), basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	cmd.Flags().BoolVar(&allowSubject, "allow-subject-header", false, "accept X-Subject without a token (development only)")
	return cmd
}

// --- helpers ---

// withClient opens the workspace client and resumes the stored session.
func withClient(ctx context.Context, fn func(context.Context, *app.Client) error) error {
	c, err := app.Open(ctx, viper.GetString("workspace"), slog.Default())
	if err != nil {
		return err
	}
	defer c.Close()
	s, err := c.Resume(ctx)
	if err != nil {
		return err
	}
	if s.User == nil {
		return fmt.Errorf("not signed in (run: bl login)")
	}
	return fn(ctx, c)
}

// withProject resolves the selected project and loads its tasks.
func withProject(ctx context.Context, fn func(context.Context, *app.Client, domain.Project) error) error {
	return withClient(ctx, func(ctx context.Context, c *app.Client) error {
		raw := strings.TrimSpace(viper.GetString("project"))
		if raw == "" {
			return fmt.Errorf("project not specified; use --project or bl project use <id>")
		}
		p, err := loadProject(ctx, c, raw)
		if err != nil {
			return err
		}
		c.Actions.SelectProject(ctx, &p)
		if err := stateError(c.Store.Snapshot()); err != nil {
			return err
		}
		return fn(ctx, c, p)
	})
}

// withTask loads a task of the selected project and checks the acting user
// may perform action on it.
func withTask(ctx context.Context, rawID, action string, fn func(context.Context, *app.Client, domain.Task) error) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	return withProject(ctx, func(ctx context.Context, c *app.Client, p domain.Project) error {
		s := c.Store.Snapshot()
		t, ok := s.FindTask(id)
		if !ok {
			return fmt.Errorf("task %d not found in project %d", id, p.ID)
		}
		checker := authz.FromState(s)
		allowed := checker.CanUpdateTask(&t)
		if action == "delete task" {
			allowed = checker.CanDeleteTask(&t)
		}
		if !allowed {
			return authz.DeniedError{Action: action}
		}
		return fn(ctx, c, t)
	})
}

func loadProject(ctx context.Context, c *app.Client, raw string) (domain.Project, error) {
	id, err := parseID(raw)
	if err != nil {
		return domain.Project{}, err
	}
	c.Actions.FetchProjects(ctx)
	s := c.Store.Snapshot()
	if err := stateError(s); err != nil {
		return domain.Project{}, err
	}
	p, ok := s.FindProject(id)
	if !ok {
		return domain.Project{}, fmt.Errorf("project %d not found or not visible", id)
	}
	return p, nil
}

// projectChecker attaches membership when the backend will tell us; a
// refusal leaves the checker permissive and the backend decides.
func projectChecker(ctx context.Context, c *app.Client, projectID int64) authz.Checker {
	checker := authz.FromState(c.Store.Snapshot())
	if checker.IsAdmin() {
		return checker
	}
	members, err := c.Actions.FetchProjectMembers(ctx, projectID)
	if err != nil {
		slog.Debug("membership unavailable", slog.Int64("project_id", projectID), slog.String("error", err.Error()))
		return checker
	}
	return checker.WithMembers(authz.Members{projectID: members})
}

func stateError(s state.State) error {
	if s.Error != nil {
		return errors.New(*s.Error)
	}
	return nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(raw, "#")), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func printUsers(users []domain.User) error {
	if viper.GetBool("json") {
		return printJSON(nonNil(users))
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Email", "Role"})
	for _, u := range users {
		tw.AppendRow(table.Row{u.ID, u.DisplayName(), u.Email, authz.RoleDisplayName(u.Role)})
	}
	tw.Render()
	return nil
}

func printProjects(projects []domain.Project) error {
	if viper.GetBool("json") {
		return printJSON(nonNil(projects))
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Owner", "Description"})
	for _, p := range projects {
		desc := ""
		if p.Description != nil {
			desc = *p.Description
		}
		tw.AppendRow(table.Row{p.ID, p.Name, p.OwnerID, desc})
	}
	tw.Render()
	return nil
}

func printTasks(tasks []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(nonNil(tasks))
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Assignee"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, optionalID(t.AssigneeID)})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// setEnvValue writes key=value into the .env file at path, keeping other
// entries.
func setEnvValue(path, key, value string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		env = map[string]string{}
	}
	env[key] = value
	return godotenv.Write(env, path)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}
