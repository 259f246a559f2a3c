package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/donutnomad/markgen/internal/frontend"
	"github.com/donutnomad/markgen/internal/logging/logfields"
)

const defaultDebounce = 500 * time.Millisecond

// devRunner 监听源文件变动，按包目录防抖后重新生成
type devRunner struct {
	runner   *runner
	watcher  *fsnotify.Watcher
	debounce time.Duration
	suffix   string
	log      logrus.FieldLogger

	mu      sync.Mutex
	pending map[string]*time.Timer // 包目录 -> 定时器
	wg      sync.WaitGroup
}

func runDev(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// dev 模式总是写入文件
	cfg.Check = false
	ctx := cmd.Context()

	r, err := newRunner(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	patterns := args
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	// 启动时先完整生成一次
	if rep, err := r.run(ctx, patterns); err != nil {
		r.log.WithError(err).Error("生成失败")
	} else {
		r.printSummary(rep)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "创建文件监听器失败")
	}
	defer watcher.Close()

	dirs, err := collectWatchDirs(patterns)
	if err != nil {
		return errors.Wrap(err, "收集监听目录失败")
	}
	if len(dirs) == 0 {
		return errors.New("没有找到需要监听的目录")
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return errors.Wrapf(err, "添加监听目录 %s 失败", dir)
		}
	}

	d := &devRunner{
		runner:   r,
		watcher:  watcher,
		debounce: defaultDebounce,
		suffix:   cfg.OutputSuffix,
		log:      r.log.WithField(logfields.LogSubsys, "dev"),
		pending:  make(map[string]*time.Timer),
	}
	d.log.WithField(logfields.Count, len(dirs)).Info("开发模式已启动，按 Ctrl+C 退出")
	return d.watchLoop(ctx)
}

// watchLoop 事件处理循环，ctx 取消后等待进行中的生成结束
func (d *devRunner) watchLoop(ctx context.Context) error {
	defer d.stop()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-d.watcher.Events:
			if !ok {
				return nil
			}
			d.handleEvent(ctx, event)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return nil
			}
			d.log.WithError(err).Warn("监听错误")
		}
	}
}

func (d *devRunner) stop() {
	d.mu.Lock()
	for dir, timer := range d.pending {
		if timer.Stop() {
			d.wg.Done()
		}
		delete(d.pending, dir)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *devRunner) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	path := event.Name

	// 新建的目录加入监听
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if !skipDir(info.Name()) {
				_ = d.watcher.Add(path)
			}
			return
		}
	}

	if !d.relevant(path) {
		return
	}
	d.log.WithField(logfields.Module, path).Debug("检测到文件变化")
	d.schedule(ctx, filepath.Dir(path))
}

// relevant 只处理可能带标记的源文件，生成的文件不会触发重新生成
func (d *devRunner) relevant(path string) bool {
	if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, d.suffix) {
		return false
	}
	if strings.HasSuffix(path, "_test.go") && !d.runner.cfg.Tests {
		return false
	}
	// 文件被删除或改名时 QuickMatchFile 会失败，这时同样重新生成以清理输出
	matched, err := frontend.QuickMatchFile(path)
	return err != nil || matched
}

// schedule 在防抖时间内同一目录只触发一次生成
func (d *devRunner) schedule(ctx context.Context, dir string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.pending[dir]; ok && timer.Stop() {
		d.wg.Done()
	}
	d.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(d.debounce, func() {
		defer d.wg.Done()

		d.mu.Lock()
		if d.pending[dir] == timer {
			delete(d.pending, dir)
		}
		d.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		rep, err := d.runner.run(ctx, []string{dir})
		if err != nil {
			d.log.WithError(err).WithField(logfields.Location, dir).Error("生成失败")
			return
		}
		d.runner.printSummary(rep)
	})
	d.pending[dir] = timer
}

// collectWatchDirs 收集需要监听的目录
func collectWatchDirs(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var dirs []string
	add := func(dir string) {
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	for _, pattern := range patterns {
		recursive := strings.HasSuffix(pattern, "/...")
		base := strings.TrimSuffix(pattern, "/...")
		if base == "" {
			base = "."
		}

		absDir, err := filepath.Abs(base)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(absDir)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(filepath.Dir(absDir))
			continue
		}
		if !recursive {
			add(absDir)
			continue
		}

		err = filepath.WalkDir(absDir, func(path string, entry os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !entry.IsDir() {
				return nil
			}
			if path != absDir && skipDir(entry.Name()) {
				return filepath.SkipDir
			}
			add(path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(dirs)
	return dirs, nil
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata"
}
