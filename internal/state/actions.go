package state

import "boardline/internal/domain"

// ActionType names a transition.
type ActionType string

const (
	TypeSetLoading         ActionType = "SET_LOADING"
	TypeSetError           ActionType = "SET_ERROR"
	TypeSetUser            ActionType = "SET_USER"
	TypeSetUsers           ActionType = "SET_USERS"
	TypeSetProjects        ActionType = "SET_PROJECTS"
	TypeSetTasks           ActionType = "SET_TASKS"
	TypeSetCurrentProject  ActionType = "SET_CURRENT_PROJECT"
	TypeAddProject         ActionType = "ADD_PROJECT"
	TypeUpdateProject      ActionType = "UPDATE_PROJECT"
	TypeDeleteProject      ActionType = "DELETE_PROJECT"
	TypeAddTask            ActionType = "ADD_TASK"
	TypeUpdateTask         ActionType = "UPDATE_TASK"
	TypeDeleteTask         ActionType = "DELETE_TASK"
	TypeStartImpersonation ActionType = "START_IMPERSONATION"
	TypeStopImpersonation  ActionType = "STOP_IMPERSONATION"
	TypeClearState         ActionType = "CLEAR_STATE"
)

// Action is one of the transitions declared in this file. The set is closed:
// the unexported method keeps other packages from adding their own.
type Action interface {
	Type() ActionType
	apply(State) State
}

type SetLoading struct{ Loading bool }

type SetError struct{ Message *string }

type SetUser struct{ User *domain.User }

type SetUsers struct{ Users []domain.User }

type SetProjects struct{ Projects []domain.Project }

type SetTasks struct{ Tasks []domain.Task }

type SetCurrentProject struct{ Project *domain.Project }

type AddProject struct{ Project domain.Project }

type UpdateProject struct{ Project domain.Project }

type DeleteProject struct{ ID int64 }

type AddTask struct{ Task domain.Task }

type UpdateTask struct{ Task domain.Task }

type DeleteTask struct{ ID int64 }

type StartImpersonation struct{ User domain.User }

type StopImpersonation struct{}

type ClearState struct{}

func (SetLoading) Type() ActionType         { return TypeSetLoading }
func (SetError) Type() ActionType           { return TypeSetError }
func (SetUser) Type() ActionType            { return TypeSetUser }
func (SetUsers) Type() ActionType           { return TypeSetUsers }
func (SetProjects) Type() ActionType        { return TypeSetProjects }
func (SetTasks) Type() ActionType           { return TypeSetTasks }
func (SetCurrentProject) Type() ActionType  { return TypeSetCurrentProject }
func (AddProject) Type() ActionType         { return TypeAddProject }
func (UpdateProject) Type() ActionType      { return TypeUpdateProject }
func (DeleteProject) Type() ActionType      { return TypeDeleteProject }
func (AddTask) Type() ActionType            { return TypeAddTask }
func (UpdateTask) Type() ActionType         { return TypeUpdateTask }
func (DeleteTask) Type() ActionType         { return TypeDeleteTask }
func (StartImpersonation) Type() ActionType { return TypeStartImpersonation }
func (StopImpersonation) Type() ActionType  { return TypeStopImpersonation }
func (ClearState) Type() ActionType         { return TypeClearState }

// ErrorMessage builds a SetError from an error; a nil error clears the field.
func ErrorMessage(err error) SetError {
	if err == nil {
		return SetError{}
	}
	msg := err.Error()
	return SetError{Message: &msg}
}
