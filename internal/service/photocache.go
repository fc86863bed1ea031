package service

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"sync"

	_ "image/jpeg"
	_ "image/png"
)

const (
	maxPhotoBytes  = 10 << 20 // лимит Telegram на фото
	maxPhotoSide   = 10000
	maxAspectRatio = 20.0
)

type photoEntry struct {
	FileID  string `json:"file_id"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"mtime"`
}

// PhotoCache хранит telegram file_id загруженных картинок меню,
// чтобы не заливать файл при каждой отправке. Запись привязана
// к размеру и mtime файла: изменённый файл загружается заново.
type PhotoCache struct {
	dir       string
	cacheFile string

	mu      sync.Mutex
	entries map[string]photoEntry
}

// NewPhotoCache создаёт кэш для картинок из dir с состоянием в cacheFile
func NewPhotoCache(dir, cacheFile string) *PhotoCache {
	return &PhotoCache{
		dir:       dir,
		cacheFile: cacheFile,
		entries:   make(map[string]photoEntry),
	}
}

// Load читает сохранённый кэш. Отсутствие файла не ошибка.
func (p *PhotoCache) Load() error {
	data, err := os.ReadFile(p.cacheFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	entries := make(map[string]photoEntry)
	if err := json.Unmarshal(data, &entries); err != nil {
		// Повреждённый кэш не фатален, начинаем с чистого
		log.Printf("Photo cache corrupted, resetting: %v", err)
		return nil
	}

	p.mu.Lock()
	p.entries = entries
	p.mu.Unlock()
	return nil
}

// Path возвращает путь к картинке по имени
func (p *PhotoCache) Path(name string) string {
	return filepath.Join(p.dir, name)
}

// FileID возвращает закэшированный file_id, если файл не менялся
func (p *PhotoCache) FileID(name string) (string, bool) {
	info, err := os.Stat(p.Path(name))
	if err != nil {
		return "", false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[name]
	if !ok || entry.Size != info.Size() || entry.ModTime != info.ModTime().Unix() {
		return "", false
	}
	return entry.FileID, true
}

// Remember сохраняет file_id для текущей версии файла и пишет кэш на диск
func (p *PhotoCache) Remember(name, fileID string) error {
	info, err := os.Stat(p.Path(name))
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.entries[name] = photoEntry{
		FileID:  fileID,
		Size:    info.Size(),
		ModTime: info.ModTime().Unix(),
	}
	data, err := json.MarshalIndent(p.entries, "", "  ")
	p.mu.Unlock()
	if err != nil {
		return err
	}

	return os.WriteFile(p.cacheFile, data, 0o644)
}

// Validate проверяет, что картинка пригодна для отправки в Telegram
func (p *PhotoCache) Validate(name string) error {
	path := p.Path(name)

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() > maxPhotoBytes {
		return fmt.Errorf("photo %s is too large: %d bytes", name, info.Size())
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("photo %s is not a valid image: %w", name, err)
	}
	if cfg.Width > maxPhotoSide || cfg.Height > maxPhotoSide {
		return fmt.Errorf("photo %s dimensions too large: %dx%d", name, cfg.Width, cfg.Height)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return fmt.Errorf("photo %s has zero dimension", name)
	}

	ratio := float64(cfg.Width) / float64(cfg.Height)
	if ratio < 1 {
		ratio = 1 / ratio
	}
	if ratio > maxAspectRatio {
		return fmt.Errorf("photo %s aspect ratio too extreme: %dx%d", name, cfg.Width, cfg.Height)
	}

	return nil
}
