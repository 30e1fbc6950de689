// Package gormstore persists tasks and transcripts with GORM over SQLite,
// so history survives a process restart.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"browser-bridge/internal/application/port/output"
	"browser-bridge/internal/domain/entity"
)

type taskRecord struct {
	ID          string `gorm:"primaryKey"`
	Instruction string `gorm:"type:text;not null"`
	Provider    string `gorm:"type:varchar(64)"`
	Status      string `gorm:"type:varchar(32);not null;index"`
	Reason      string `gorm:"type:varchar(64)"`
	Result      string `gorm:"type:text"`
	Error       string `gorm:"type:text"`
	OptionsJSON string `gorm:"type:text"`
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

func (taskRecord) TableName() string { return "tasks" }

type stepRecord struct {
	ID              uint   `gorm:"primaryKey"`
	TaskID          string `gorm:"index;not null"`
	StepNo          int    `gorm:"not null"`
	ActionName      string `gorm:"type:varchar(64);not null"`
	ActionArgs      string `gorm:"type:text"`
	ObservationJSON string `gorm:"type:text"`
	Success         bool
	OutcomeData     string `gorm:"type:text"`
	OutcomeError    string `gorm:"type:text"`
	ScreenshotPath  string `gorm:"type:text"`
	Timestamp       time.Time
}

func (stepRecord) TableName() string { return "task_steps" }

type Store struct {
	db *gorm.DB
}

var _ output.TaskStore = (*Store)(nil)

// Open creates or opens the SQLite database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	if err := db.AutoMigrate(&taskRecord{}, &stepRecord{}); err != nil {
		return nil, fmt.Errorf("migrate task store: %w", err)
	}
	return &Store{db: db}, nil
}

// Save upserts the task record and rewrites its steps. Steps are
// append-only in the domain, so rewriting is equivalent to appending the
// missing tail.
func (s *Store) Save(ctx context.Context, task *entity.Task) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := toTaskRecord(task)
		if err != nil {
			return err
		}
		if err := tx.Save(record).Error; err != nil {
			return fmt.Errorf("save task: %w", err)
		}
		if err := tx.Where("task_id = ?", task.ID).Delete(&stepRecord{}).Error; err != nil {
			return fmt.Errorf("clear steps: %w", err)
		}
		if len(task.Steps) == 0 {
			return nil
		}
		records := make([]stepRecord, 0, len(task.Steps))
		for _, step := range task.Steps {
			sr, err := toStepRecord(task.ID, step)
			if err != nil {
				return err
			}
			records = append(records, sr)
		}
		if err := tx.Create(&records).Error; err != nil {
			return fmt.Errorf("save steps: %w", err)
		}
		return nil
	})
}

func (s *Store) Load(ctx context.Context, id string) (*entity.Task, error) {
	var record taskRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, entity.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}

	var steps []stepRecord
	if err := s.db.WithContext(ctx).Where("task_id = ?", id).Order("step_no").Find(&steps).Error; err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	return fromRecords(record, steps)
}

func (s *Store) LoadAll(ctx context.Context) ([]*entity.Task, error) {
	var records []taskRecord
	if err := s.db.WithContext(ctx).Order("created_at").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	tasks := make([]*entity.Task, 0, len(records))
	for _, record := range records {
		var steps []stepRecord
		if err := s.db.WithContext(ctx).Where("task_id = ?", record.ID).Order("step_no").Find(&steps).Error; err != nil {
			return nil, fmt.Errorf("load steps for %s: %w", record.ID, err)
		}
		task, err := fromRecords(record, steps)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func toTaskRecord(task *entity.Task) (*taskRecord, error) {
	options, err := json.Marshal(task.Options)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}
	return &taskRecord{
		ID:          task.ID,
		Instruction: task.Instruction,
		Provider:    task.Provider,
		Status:      string(task.Status),
		Reason:      string(task.Reason),
		Result:      task.Result,
		Error:       task.Error,
		OptionsJSON: string(options),
		CreatedAt:   task.CreatedAt,
		StartedAt:   task.StartedAt,
		FinishedAt:  task.FinishedAt,
	}, nil
}

func toStepRecord(taskID string, step entity.Step) (stepRecord, error) {
	observation, err := json.Marshal(step.Observation)
	if err != nil {
		return stepRecord{}, fmt.Errorf("marshal observation: %w", err)
	}
	return stepRecord{
		TaskID:          taskID,
		StepNo:          step.Index,
		ActionName:      string(step.Action.Name),
		ActionArgs:      step.Action.Raw,
		ObservationJSON: string(observation),
		Success:         step.Outcome.Success,
		OutcomeData:     step.Outcome.Data,
		OutcomeError:    step.Outcome.Error,
		ScreenshotPath:  step.ScreenshotPath,
		Timestamp:       step.Timestamp,
	}, nil
}

func fromRecords(record taskRecord, steps []stepRecord) (*entity.Task, error) {
	task := &entity.Task{
		ID:          record.ID,
		Instruction: record.Instruction,
		Provider:    record.Provider,
		Status:      entity.TaskStatus(record.Status),
		Reason:      entity.FailReason(record.Reason),
		Result:      record.Result,
		Error:       record.Error,
		CreatedAt:   record.CreatedAt,
		StartedAt:   record.StartedAt,
		FinishedAt:  record.FinishedAt,
	}
	if record.OptionsJSON != "" {
		if err := json.Unmarshal([]byte(record.OptionsJSON), &task.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options for %s: %w", record.ID, err)
		}
	}
	for _, sr := range steps {
		var observation entity.Observation
		if sr.ObservationJSON != "" {
			if err := json.Unmarshal([]byte(sr.ObservationJSON), &observation); err != nil {
				return nil, fmt.Errorf("unmarshal observation for %s: %w", record.ID, err)
			}
		}
		var args entity.ActionArgs
		if sr.ActionArgs != "" {
			// Best effort: raw args come straight from the model and may
			// not round-trip.
			_ = json.Unmarshal([]byte(sr.ActionArgs), &args)
		}
		task.Steps = append(task.Steps, entity.Step{
			Index:       sr.StepNo,
			Observation: observation,
			Action: entity.Action{
				Name: entity.ActionName(sr.ActionName),
				Args: args,
				Raw:  sr.ActionArgs,
			},
			Outcome: entity.StepOutcome{
				Success: sr.Success,
				Data:    sr.OutcomeData,
				Error:   sr.OutcomeError,
			},
			ScreenshotPath: sr.ScreenshotPath,
			Timestamp:      sr.Timestamp,
		})
	}
	return task, nil
}
