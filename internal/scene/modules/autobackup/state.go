package autobackup

import (
	"path/filepath"
	"strings"
	"time"

	"regionsim.ai/internal/config"
)

type NamingType string

const (
	NamingTime       NamingType = "Time"
	NamingSequential NamingType = "Sequential"
	NamingOverwrite  NamingType = "Overwrite"
)

// AutoBackupModuleState is the effective backup policy of one region.
type AutoBackupModuleState struct {
	Enabled            bool
	Interval           time.Duration
	BusyCheck          bool
	BusyAgentThreshold int
	NamingType         NamingType
	BackupDir          string
	KeepFilesForDays   int
	Upload             bool
}

// StateFor merges the section defaults with the override keyed by the
// region's id or name (case-insensitive).
func StateFor(sec config.AutoBackupSection, dataDir, regionID, regionName string) AutoBackupModuleState {
	st := AutoBackupModuleState{
		Enabled:            sec.Enabled,
		Interval:           sec.Interval,
		BusyCheck:          sec.BusyCheck,
		BusyAgentThreshold: sec.BusyAgentThreshold,
		NamingType:         NamingType(sec.NamingType),
		BackupDir:          sec.Dir,
		KeepFilesForDays:   sec.KeepFilesForDays,
		Upload:             sec.Upload,
	}
	for key, o := range sec.Regions {
		if !strings.EqualFold(key, regionID) && !strings.EqualFold(key, regionName) {
			continue
		}
		if o.Enabled != nil {
			st.Enabled = *o.Enabled
		}
		if o.Interval != nil {
			st.Interval = *o.Interval
		}
		if o.BusyCheck != nil {
			st.BusyCheck = *o.BusyCheck
		}
		if o.BusyAgentThreshold != nil {
			st.BusyAgentThreshold = *o.BusyAgentThreshold
		}
		if o.NamingType != nil {
			st.NamingType = NamingType(*o.NamingType)
		}
		if o.Dir != nil {
			st.BackupDir = *o.Dir
		}
		if o.KeepFilesForDays != nil {
			st.KeepFilesForDays = *o.KeepFilesForDays
		}
		if o.Upload != nil {
			st.Upload = *o.Upload
		}
	}
	if st.Interval <= 0 {
		st.Interval = 12 * time.Hour
	}
	switch st.NamingType {
	case NamingTime, NamingSequential, NamingOverwrite:
	default:
		st.NamingType = NamingTime
	}
	if st.BackupDir == "" {
		st.BackupDir = filepath.Join(dataDir, "backups")
	}
	return st
}
