package localization

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
)

const fallbackLanguage = "en"

type Localizer struct {
	messages map[string]map[string]string
}

// NewLocalizer loads every <lang>.json file at the root of dir.
func NewLocalizer(dir fs.FS, log logrus.FieldLogger) (*Localizer, error) {
	messages := make(map[string]map[string]string)

	files, err := fs.ReadDir(dir, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read locales directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || path.Ext(file.Name()) != ".json" {
			continue
		}
		lang := strings.TrimSuffix(file.Name(), ".json")
		content, err := fs.ReadFile(dir, file.Name())
		if err != nil {
			log.Warnf("Failed to read locale file %s: %v", file.Name(), err)
			continue
		}

		var langMessages map[string]string
		if err := json.Unmarshal(content, &langMessages); err != nil {
			log.Warnf("Failed to parse locale file %s: %v", file.Name(), err)
			continue
		}
		messages[lang] = langMessages
		log.Debugf("Loaded language: %s", lang)
	}
	if _, ok := messages[fallbackLanguage]; !ok {
		return nil, fmt.Errorf("locale %q is missing", fallbackLanguage)
	}

	return &Localizer{messages: messages}, nil
}

// GetMessage looks key up in lang, then in English, and finally returns the key itself.
func (l *Localizer) GetMessage(lang, key string) string {
	if langMessages, ok := l.messages[lang]; ok {
		if message, ok := langMessages[key]; ok {
			return message
		}
	}

	if defaultMessages, ok := l.messages[fallbackLanguage]; ok {
		if message, ok := defaultMessages[key]; ok {
			return message
		}
	}

	return key
}
