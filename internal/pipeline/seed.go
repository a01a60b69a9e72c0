package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"protoforge/internal/model"
	"protoforge/internal/service"
	"protoforge/pkg/log"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TemplateUploader 登记一个新模板。
type TemplateUploader interface {
	Upload(ctx context.Context, name, description, fileName string, content []byte, userID uint) (*model.Template, error)
}

// defaultDebounce 是同一文件最后一次写事件之后等待的时间，超过后才导入。
const defaultDebounce = 400 * time.Millisecond

// SeedImporter 将种子目录中的文件导入模板目录，按名称去重。
type SeedImporter struct {
	dir      string
	uploader TemplateUploader
	debounce time.Duration
}

// NewSeedImporter 创建一个新的 SeedImporter。
func NewSeedImporter(dir string, uploader TemplateUploader) *SeedImporter {
	return &SeedImporter{dir: dir, uploader: uploader, debounce: defaultDebounce}
}

// seedName 以不含扩展名的文件名作为模板名称。
func seedName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isSeedFile(path string) bool {
	base := filepath.Base(path)
	return base != "" && !strings.HasPrefix(base, ".")
}

// ImportAll 导入目录中尚未登记的全部文件，返回新导入的数量。
func (s *SeedImporter) ImportAll(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warnf("[SeedImporter] 种子目录不存在: %s", s.dir)
			return 0, nil
		}
		return 0, err
	}
	imported := 0
	for _, e := range entries {
		if e.IsDir() || !isSeedFile(e.Name()) {
			continue
		}
		if s.importFile(ctx, filepath.Join(s.dir, e.Name())) {
			imported++
		}
	}
	log.Infof("[SeedImporter] 种子目录导入完成, 新增 %d 个模板", imported)
	return imported, nil
}

// importFile 导入单个文件，返回是否新登记了模板。
func (s *SeedImporter) importFile(ctx context.Context, path string) bool {
	content, err := os.ReadFile(path)
	if err != nil {
		log.Warnf("[SeedImporter] 读取文件失败: %s, %v", path, err)
		return false
	}
	name := seedName(path)
	tpl, err := s.uploader.Upload(ctx, name, "seed template "+filepath.Base(path), filepath.Base(path), content, 0)
	switch {
	case errors.Is(err, service.ErrTemplateExists):
		return false
	case errors.Is(err, service.ErrInvalidTemplate):
		// 文件可能尚未写完，等待后续写事件
		return false
	case err != nil && tpl == nil:
		log.Errorf("[SeedImporter] 导入模板失败: %s, %v", path, err)
		return false
	case err != nil:
		log.Warnf("[SeedImporter] 模板已登记但索引任务投递失败: %s, %v", name, err)
	}
	log.Infof("[SeedImporter] 已导入模板: %s", name)
	return true
}

// Watch 监听种子目录中新建或写入的文件，直到 ctx 取消。
// 每个路径在最后一次事件后静默 debounce 时长才导入，避免导入尚未写完的文件。
func (s *SeedImporter) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return err
	}
	log.Infof("[SeedImporter] 开始监听种子目录: %s", s.dir)

	type firing struct {
		path string
		seq  uint64
	}
	type pendingImport struct {
		timer *time.Timer
		seq   uint64
	}
	var seq uint64
	pending := make(map[string]pendingImport)
	ready := make(chan firing)
	defer func() {
		for _, p := range pending {
			p.timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isSeedFile(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				if p, ok := pending[ev.Name]; ok {
					p.timer.Stop()
					delete(pending, ev.Name)
				}
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if p, ok := pending[ev.Name]; ok {
				p.timer.Stop()
			}
			seq++
			f := firing{path: ev.Name, seq: seq}
			pending[f.path] = pendingImport{seq: f.seq, timer: time.AfterFunc(s.debounce, func() {
				select {
				case ready <- f:
				case <-ctx.Done():
				}
			})}
		case f := <-ready:
			// 已被后续事件替换的定时器直接忽略
			if p, ok := pending[f.path]; !ok || p.seq != f.seq {
				continue
			}
			delete(pending, f.path)
			path := f.path
			if info, err := os.Stat(path); err != nil || info.IsDir() {
				continue
			}
			s.importFile(ctx, path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("[SeedImporter] 监听错误: %v", err)
		}
	}
}
