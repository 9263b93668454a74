package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/annel0/voxel-stream/internal/world"
)

// illegalFileChars символы, недопустимые в имени каталога уровня
var illegalFileChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// FileStore хранит каждый чанк отдельным файлом:
// <root>/leveldata/<level>/chunkdata/<x>,<y>,<z>.evxch
type FileStore struct {
	root string
}

// NewFileStore создаёт файловое хранилище в каталоге root
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать каталог %s: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

// SafeLevelName имя уровня без недопустимых символов
func SafeLevelName(level string) string {
	return illegalFileChars.ReplaceAllString(level, "")
}

func (s *FileStore) chunkDir(level string) string {
	return filepath.Join(s.root, "leveldata", SafeLevelName(level), "chunkdata")
}

// ChunkPath путь к файлу чанка
func (s *FileStore) ChunkPath(id world.ChunkID, level string) string {
	return filepath.Join(s.chunkDir(level), id.String()+".evxch")
}

func (s *FileStore) Exists(ctx context.Context, id world.ChunkID, level string) (bool, error) {
	_, err := os.Stat(s.ChunkPath(id, level))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *FileStore) Load(ctx context.Context, id world.ChunkID, level string) ([]byte, int, error) {
	data, err := os.ReadFile(s.ChunkPath(id, level))
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, fmt.Errorf("load %s: %w", id, ErrChunkNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка чтения файла чанка %s: %w", id, err)
	}
	return DecodeVoxels(data)
}

// Save пишет блоб во временный файл и переименовывает его
func (s *FileStore) Save(ctx context.Context, id world.ChunkID, level string, voxels []byte, solidCount int) error {
	data, err := EncodeVoxels(voxels, solidCount)
	if err != nil {
		return err
	}

	dir := s.chunkDir(level)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("не удалось создать каталог %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, id.String()+".*.tmp")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("ошибка записи чанка %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.ChunkPath(id, level)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("ошибка сохранения чанка %s: %w", id, err)
	}
	return nil
}

// ListChunks возвращает ID всех сохранённых чанков уровня
func (s *FileStore) ListChunks(level string) ([]world.ChunkID, error) {
	var ids []world.ChunkID
	err := filepath.WalkDir(s.chunkDir(level), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".evxch" {
			return nil
		}
		var id world.ChunkID
		if _, err := fmt.Sscanf(filepath.Base(path), "%d,%d,%d.evxch", &id.X, &id.Y, &id.Z); err != nil {
			return nil
		}
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

func (s *FileStore) Close() error { return nil }
