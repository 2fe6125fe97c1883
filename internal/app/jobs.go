package app

import (
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/talkincode/wahub/pkg/metrics"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ErrUnknownJob is returned by RunJob for a name not in Jobs.
var ErrUnknownJob = errors.New("unknown job")

func (a *Application) jobs() map[string]func() {
	return map[string]func(){
		"system_monitor":    a.SchedSystemMonitorTask,
		"process_monitor":   a.SchedProcessMonitorTask,
		"session_monitor":   a.SchedSessionMonitorTask,
		"clear_expire_data": a.SchedClearExpireData,
	}
}

// Jobs lists the background jobs that can be triggered on demand.
func (a *Application) Jobs() []string {
	names := make([]string, 0, 4)
	for name := range a.jobs() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunJob runs the named job synchronously.
func (a *Application) RunJob(name string) error {
	job, ok := a.jobs()[name]
	if !ok {
		return errors.Wrap(ErrUnknownJob, name)
	}
	job()
	return nil
}

func (a *Application) initJob() {
	loc, _ := time.LoadLocation(a.appConfig.System.Location)
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	var err error
	_, err = a.sched.AddFunc("@every 30s", func() {
		go a.SchedSystemMonitorTask()
		go a.SchedProcessMonitorTask()
		go a.SchedSessionMonitorTask()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@daily", a.SchedClearExpireData)
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	a.sched.Start()
}

// SchedSystemMonitorTask system monitor
func (a *Application) SchedSystemMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	// Collect CPU usage
	_cpuuse, err := cpu.Percent(0, false)
	if err == nil && len(_cpuuse) > 0 {
		metrics.SetGauge("system_cpuuse", int64(_cpuuse[0]*100)) // Store as percentage * 100
	}

	// Collect memory usage
	_meminfo, err := mem.VirtualMemory()
	if err == nil {
		metrics.SetGauge("system_memuse", int64(_meminfo.Used/1024/1024)) //nolint:gosec // G115: memory MB value fits in int64
	}
}

// SchedProcessMonitorTask app process monitor
func (a *Application) SchedProcessMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // G115: PID is always within int32 range
	if err != nil {
		return
	}

	cpuuse, err := p.CPUPercent()
	if err == nil {
		metrics.SetGauge("wahub_cpuuse", int64(cpuuse*100))
	}

	meminfo, err := p.MemoryInfo()
	if err == nil {
		metrics.SetGauge("wahub_memuse", int64(meminfo.RSS/1024/1024)) //nolint:gosec // G115: memory MB value fits in int64
	}
}

// SchedSessionMonitorTask samples how many tenant sessions are registered.
func (a *Application) SchedSessionMonitorTask() {
	if a.sessions == nil {
		return
	}
	metrics.SetGauge("sessions_live", int64(len(a.sessions.List())))
}

// SchedClearExpireData purges audited session events past retention.
func (a *Application) SchedClearExpireData() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()
	if a.eventLog == nil {
		return
	}
	days := a.appConfig.Whatsapp.EventRetentionDays
	n, err := a.eventLog.Purge(days)
	if err != nil {
		zap.L().Error("purge session events failed", zap.String("namespace", "audit"), zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("purged session events", zap.String("namespace", "audit"), zap.Int64("rows", n), zap.Int("days", days))
	}
}
