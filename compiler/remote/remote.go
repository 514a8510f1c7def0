/*
Package remote implements a client of a remote DSP compiler.

The remote machine compiles the effect and keeps the unit running on its
side. The client only holds the key of the remote unit:

	POST   /compile          {"name", "source", "args", "opt_level"} -> {"key"} | {"error"}
	DELETE /factory/{key}
*/
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/pipelined/livefx/artifact"
	"github.com/pipelined/livefx/compiler"
	"github.com/pipelined/livefx/log"
)

// ErrNotPersistable is returned by Persist, remote units stay on the remote machine.
var ErrNotPersistable = errors.New("remote artifacts are not persisted")

// Unit is a handle of unit compiled by the remote machine.
type Unit struct {
	Key      string
	Endpoint compiler.Endpoint
}

// Client talks to the remote compiler of each request's endpoint.
type Client struct {
	http *http.Client
	log  log.Logger
}

type compileRequest struct {
	Name     string   `json:"name"`
	Source   string   `json:"source"`
	Args     []string `json:"args"`
	OptLevel int      `json:"opt_level"`
}

type compileResponse struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

const defaultTimeout = 30 * time.Second

// New returns new client. Nil http client is replaced with a default
// one with timeout.
func New(c *http.Client) *Client {
	if c == nil {
		c = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		http: c,
		log:  log.GetLogger(),
	}
}

func baseURL(e compiler.Endpoint) string {
	return (&url.URL{Scheme: "http", Host: e.String()}).String()
}

// Compile sends effect source to the request's endpoint.
func (c *Client) Compile(ctx context.Context, r compiler.Request) (*artifact.Artifact, error) {
	src, err := os.ReadFile(r.Source)
	if err != nil {
		return nil, &compiler.Error{Message: err.Error()}
	}
	body, err := json.Marshal(compileRequest{
		Name:     r.Name,
		Source:   string(src),
		Args:     r.Args,
		OptLevel: r.OptLevel,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(r.Endpoint)+"/compile", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.log.Debug(fmt.Sprintf("remote compile %v at %v", r.Name, r.Endpoint))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", compiler.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	var cr compileResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&cr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", compiler.ErrRemoteUnavailable, err)
	}
	if cr.Error != "" {
		return nil, &compiler.Error{Message: cr.Error}
	}
	if resp.StatusCode != http.StatusOK || cr.Key == "" {
		return nil, fmt.Errorf("%w: status %v", compiler.ErrRemoteUnavailable, resp.Status)
	}
	return artifact.NewRemote(r.Name, &Unit{Key: cr.Key, Endpoint: r.Endpoint}), nil
}

// Persist always fails for remote artifacts.
func (c *Client) Persist(a *artifact.Artifact, path string) error {
	return ErrNotPersistable
}

// Release deletes the unit on the remote machine.
func (c *Client) Release(a *artifact.Artifact) error {
	u, ok := a.Handle().(*Unit)
	if !ok {
		return fmt.Errorf("release %v: not a remote unit", a)
	}
	req, err := http.NewRequest(http.MethodDelete, baseURL(u.Endpoint)+"/factory/"+url.PathEscape(u.Key), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", compiler.ErrRemoteUnavailable, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("release %v: status %v", u.Key, resp.Status)
	}
	return nil
}
