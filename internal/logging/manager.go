package logging

import (
	"fmt"
	"sort"
	"sync"
)

// LoggerManager хранит логгеры компонентов (lod, tasks, terrain, stream, api, eventbus).
// Новые логгеры получают общий консольный уровень менеджера.
type LoggerManager struct {
	mu           sync.RWMutex
	loggers      map[string]*Logger
	consoleLevel LogLevel
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

func newLoggerManager() *LoggerManager {
	return &LoggerManager{loggers: make(map[string]*Logger), consoleLevel: INFO}
}

// GetLoggerManager возвращает глобальный менеджер
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() { globalManager = newLoggerManager() })
	return globalManager
}

// GetLogger возвращает логгер компонента, создавая его при первом обращении
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	l, ok := lm.loggers[component]
	lm.mu.RUnlock()
	if ok {
		return l, nil
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if l, ok := lm.loggers[component]; ok {
		return l, nil
	}
	l, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("logger %s: %w", component, err)
	}
	l.SetLevel(lm.consoleLevel)
	lm.loggers[component] = l
	return l, nil
}

// MustGetLogger возвращает логгер компонента. Если файл лога открыть не удалось,
// возвращается логгер только в консоль.
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	l, err := lm.GetLogger(component)
	if err == nil {
		return l
	}
	lm.mu.RLock()
	level := lm.consoleLevel
	lm.mu.RUnlock()
	return &Logger{
		component:       component,
		consoleLogger:   getDefault().consoleLogger,
		minConsoleLevel: level,
		minFileLevel:    ERROR + 1,
	}
}

// SetConsoleLevel меняет консольный уровень у всех логгеров, включая будущие и процессный
func (lm *LoggerManager) SetConsoleLevel(level LogLevel) {
	lm.mu.Lock()
	lm.consoleLevel = level
	for _, l := range lm.loggers {
		l.SetLevel(level)
	}
	lm.mu.Unlock()
	SetDefaultLevel(level)
}

// SetLogLevel задаёт уровни одного компонента
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) error {
	lm.mu.RLock()
	l, ok := lm.loggers[component]
	lm.mu.RUnlock()
	if !ok {
		return fmt.Errorf("logger %s not found", component)
	}
	l.mu.Lock()
	l.minConsoleLevel = consoleLevel
	l.minFileLevel = fileLevel
	l.mu.Unlock()
	return nil
}

// Components возвращает имена компонентов по алфавиту
func (lm *LoggerManager) Components() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	names := make([]string, 0, len(lm.loggers))
	for name := range lm.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloseAll закрывает файлы всех логгеров и забывает их
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	var firstErr error
	for name, l := range lm.loggers {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("logger %s: %w", name, err)
		}
	}
	lm.loggers = make(map[string]*Logger)
	return firstErr
}

func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetLodLogger() *Logger      { return GetComponentLogger("lod") }
func GetTasksLogger() *Logger    { return GetComponentLogger("tasks") }
func GetTerrainLogger() *Logger  { return GetComponentLogger("terrain") }
func GetStreamLogger() *Logger   { return GetComponentLogger("stream") }
func GetAPILogger() *Logger      { return GetComponentLogger("api") }
func GetEventBusLogger() *Logger { return GetComponentLogger("eventbus") }
