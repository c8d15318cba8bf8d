package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOnlineAgainstUnreachableServerFails(t *testing.T) {
	resetFlags()
	ca := issueCertServer(t)
	defer ca.Close()
	dir := t.TempDir()
	createTestAID(t, ca.URL, dir, "online-target.ap1", "s3cret")

	flagCABase = ca.URL
	flagAPBase = "http://127.0.0.1:1"
	flagStoragePath = dir
	onlinePassword = "s3cret"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetContext(ctx)
	assert.Error(t, runOnline(cmd, []string{"online-target.ap1"}))
}

func TestRunOnlineWrongPasswordFails(t *testing.T) {
	resetFlags()
	ca := issueCertServer(t)
	defer ca.Close()
	dir := t.TempDir()
	createTestAID(t, ca.URL, dir, "online-wrong.ap1", "right")

	flagCABase = ca.URL
	flagAPBase = "http://127.0.0.1:1"
	flagStoragePath = dir
	onlinePassword = "wrong"

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())
	err := runOnline(cmd, []string{"online-wrong.ap1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load aid")
}

func TestRunOnlineMissingAIDFails(t *testing.T) {
	resetFlags()
	ca := issueCertServer(t)
	defer ca.Close()
	dir := t.TempDir()

	flagCABase = ca.URL
	flagAPBase = "http://127.0.0.1:1"
	flagStoragePath = dir
	onlinePassword = "whatever"

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())
	assert.Error(t, runOnline(cmd, []string{"nobody.ap1"}))
}
