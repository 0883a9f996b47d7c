package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/gitaccounts/internal/application"
	"github.com/ericfisherdev/gitaccounts/internal/domain/model"
)

// startRefresh runs svc until the test ends.
func startRefresh(t *testing.T, svc *application.RefreshService) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRefreshService_ManualRefresh(t *testing.T) {
	reg, creds := newMultiRegistry(nil)
	ctx := context.Background()

	a, err := reg.CreateAccount(model.KindGitHub, "bob", "")
	require.NoError(t, err)
	_, err = reg.CreateAccount(model.KindGitLab, "alice", "")
	require.NoError(t, err)
	require.NoError(t, creds.Put(ctx, a.ServiceURL(), "bob", "tok"))

	svc := application.NewRefreshService(reg, 0, nil)
	startRefresh(t, svc)

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := svc.Refresh(reqCtx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Accounts)
	assert.Equal(t, 1, res.Failed)

	res, err = svc.RefreshAccount(reqCtx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accounts)
	assert.Zero(t, res.Failed)
	assert.Equal(t, model.ProgressFinished, a.Progress().State)
}

func TestRefreshService_PeriodicCycle(t *testing.T) {
	client := &fakeClient{kind: model.KindGitHub}
	reg, creds := newTestRegistry(client)
	a, err := reg.CreateAccount(model.KindGitHub, "bob", "")
	require.NoError(t, err)
	require.NoError(t, creds.Put(context.Background(), a.ServiceURL(), "bob", "tok"))

	startRefresh(t, application.NewRefreshService(reg, 20*time.Millisecond, nil))

	assert.Eventually(t, func() bool { return client.callCount() >= 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestRefreshService_RefreshCanceled(t *testing.T) {
	reg, _ := newMultiRegistry(nil)
	svc := application.NewRefreshService(reg, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Refresh(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
