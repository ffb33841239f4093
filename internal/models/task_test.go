// Copyright (c) 2025-2026, zfonlyone and the openlist2strm contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zfonlyone/openlist2strm/internal/models"
)

func TestTaskStoreCreate(t *testing.T) {
	ctx := t.Context()
	store := models.NewTaskStore(newTestDB(t))

	task := &models.TaskDefinition{
		Name:         "nightly",
		Folder:       "/media/movies",
		ScheduleKind: models.ScheduleKindDaily,
		ScheduleVal:  "03:00",
		Enabled:      true,
	}
	require.NoError(t, store.Create(ctx, task))
	require.NotEmpty(t, task.ID)
	require.NotNil(t, task.NextRunAt, "enabled tasks get an initial next_run_at")

	got, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Name)
	assert.Equal(t, models.ScheduleKindDaily, got.ScheduleKind)
	require.NotNil(t, got.NextRunAt)

	// Invalid schedules never reach the store.
	bad := &models.TaskDefinition{Name: "bad", ScheduleKind: models.ScheduleKindInterval, ScheduleVal: "zero"}
	err = store.Create(ctx, bad)
	var invalid *models.ErrConfigInvalid
	require.ErrorAs(t, err, &invalid)
}

func TestTaskStoreCreateDisabledHasNoNext(t *testing.T) {
	ctx := t.Context()
	store := models.NewTaskStore(newTestDB(t))

	task := &models.TaskDefinition{
		Name:         "parked",
		ScheduleKind: models.ScheduleKindInterval,
		ScheduleVal:  "30",
		Enabled:      false,
	}
	require.NoError(t, store.Create(ctx, task))
	assert.Nil(t, task.NextRunAt)
}

func TestTaskStoreListDue(t *testing.T) {
	ctx := t.Context()
	store := models.NewTaskStore(newTestDB(t))

	mk := func(name string, enabled, paused bool) *models.TaskDefinition {
		task := &models.TaskDefinition{
			Name:         name,
			ScheduleKind: models.ScheduleKindInterval,
			ScheduleVal:  "30",
			Enabled:      enabled,
			Paused:       paused,
		}
		require.NoError(t, store.Create(ctx, task))
		return task
	}

	due := mk("due", true, false)
	notYet := mk("not_yet", true, false)
	mk("disabled", false, false)
	paused := mk("paused", true, false)

	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	require.NoError(t, store.SetRunTimes(ctx, due.ID, past, &past))
	require.NoError(t, store.SetRunTimes(ctx, notYet.ID, past, &future))
	require.NoError(t, store.SetState(ctx, paused.ID, true, true, &past))

	got, err := store.ListDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
}

func TestTaskStoreSetRunTimes(t *testing.T) {
	ctx := t.Context()
	store := models.NewTaskStore(newTestDB(t))

	task := &models.TaskDefinition{
		Name:         "once",
		ScheduleKind: models.ScheduleKindImmediate,
		Enabled:      true,
		OneTime:      true,
	}
	require.NoError(t, store.Create(ctx, task))

	now := time.Now()
	// nil next clears the schedule.
	require.NoError(t, store.SetRunTimes(ctx, task.ID, now, nil))

	got, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.Nil(t, got.NextRunAt)

	err = store.SetRunTimes(ctx, "no-such-task", now, nil)
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
}

func TestTaskStoreUpdateRecomputesNext(t *testing.T) {
	ctx := t.Context()
	store := models.NewTaskStore(newTestDB(t))

	task := &models.TaskDefinition{
		Name:         "reschedule",
		ScheduleKind: models.ScheduleKindInterval,
		ScheduleVal:  "30",
		Enabled:      true,
	}
	require.NoError(t, store.Create(ctx, task))
	firstNext := *task.NextRunAt

	task.ScheduleVal = "60"
	require.NoError(t, store.Update(ctx, task))
	require.NotNil(t, task.NextRunAt)
	assert.True(t, task.NextRunAt.After(firstNext))

	task.Enabled = false
	require.NoError(t, store.Update(ctx, task))
	assert.Nil(t, task.NextRunAt)
}

func TestTaskStoreDelete(t *testing.T) {
	ctx := t.Context()
	store := models.NewTaskStore(newTestDB(t))

	task := &models.TaskDefinition{
		Name:         "gone",
		ScheduleKind: models.ScheduleKindInterval,
		ScheduleVal:  "5",
	}
	require.NoError(t, store.Create(ctx, task))
	require.NoError(t, store.Delete(ctx, task.ID))

	_, err := store.Get(ctx, task.ID)
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
	assert.ErrorIs(t, store.Delete(ctx, task.ID), models.ErrTaskNotFound)
}
