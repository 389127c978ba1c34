package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Stop requests the daemon to shut down.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Rchub.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Rchub.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BackendList returns the backend registry.
func (c *Client) BackendList() (*BackendListResponse, error) {
	var resp BackendListResponse
	if err := c.client.Call("Rchub.BackendList", BackendListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BackendAdd registers a remote backend.
func (c *Client) BackendAdd(req BackendAddRequest) (*BackendAddResponse, error) {
	var resp BackendAddResponse
	if err := c.client.Call("Rchub.BackendAdd", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BackendUpdate replaces a remote backend's connection details.
func (c *Client) BackendUpdate(req BackendUpdateRequest) (*BackendUpdateResponse, error) {
	var resp BackendUpdateResponse
	if err := c.client.Call("Rchub.BackendUpdate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BackendRemove drops a remote backend.
func (c *Client) BackendRemove(name string) (*BackendRemoveResponse, error) {
	var resp BackendRemoveResponse
	if err := c.client.Call("Rchub.BackendRemove", BackendRemoveRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BackendSwitch activates a different backend.
func (c *Client) BackendSwitch(name string) (*BackendSwitchResponse, error) {
	var resp BackendSwitchResponse
	if err := c.client.Call("Rchub.BackendSwitch", BackendSwitchRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BackendCheck probes all inactive backends.
func (c *Client) BackendCheck() (*BackendCheckResponse, error) {
	var resp BackendCheckResponse
	if err := c.client.Call("Rchub.BackendCheck", BackendCheckRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobList returns tracked jobs on the active backend.
func (c *Client) JobList() (*JobListResponse, error) {
	var resp JobListResponse
	if err := c.client.Call("Rchub.JobList", JobListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobSubmit starts a transfer on the active backend.
func (c *Client) JobSubmit(req JobSubmitRequest) (*JobSubmitResponse, error) {
	var resp JobSubmitResponse
	if err := c.client.Call("Rchub.JobSubmit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobStop stops a running job.
func (c *Client) JobStop(id uint64) (*JobStopResponse, error) {
	var resp JobStopResponse
	if err := c.client.Call("Rchub.JobStop", JobStopRequest{JobID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobHistory lists recorded terminal jobs.
func (c *Client) JobHistory(req JobHistoryRequest) (*JobHistoryResponse, error) {
	var resp JobHistoryResponse
	if err := c.client.Call("Rchub.JobHistory", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RemoteList returns the remotes configured on the active backend.
func (c *Client) RemoteList() (*RemoteListResponse, error) {
	var resp RemoteListResponse
	if err := c.client.Call("Rchub.RemoteList", RemoteListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MountList returns the reconciled mount points.
func (c *Client) MountList() (*MountListResponse, error) {
	var resp MountListResponse
	if err := c.client.Call("Rchub.MountList", MountListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ServeList returns the reconciled serve instances.
func (c *Client) ServeList() (*ServeListResponse, error) {
	var resp ServeListResponse
	if err := c.client.Call("Rchub.ServeList", ServeListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TaskList returns the scheduled tasks.
func (c *Client) TaskList() (*TaskListResponse, error) {
	var resp TaskListResponse
	if err := c.client.Call("Rchub.TaskList", TaskListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TaskToggle flips a task between enabled and disabled.
func (c *Client) TaskToggle(id string) (*TaskToggleResponse, error) {
	var resp TaskToggleResponse
	if err := c.client.Call("Rchub.TaskToggle", TaskToggleRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CronValidate checks a cron expression.
func (c *Client) CronValidate(expression string) (*CronValidateResponse, error) {
	var resp CronValidateResponse
	if err := c.client.Call("Rchub.CronValidate", CronValidateRequest{Expression: expression}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refresh re-pulls state from the active backend immediately.
func (c *Client) Refresh() (*RefreshResponse, error) {
	var resp RefreshResponse
	if err := c.client.Call("Rchub.Refresh", RefreshRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Rchub.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Rchub.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
