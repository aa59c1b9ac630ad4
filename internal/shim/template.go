package shim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-shims/internal/device"
)

// TemplateExt is the file extension of device templates.
const TemplateExt = ".yaml"

// Template is a reusable device definition without an address.
type Template struct {
	Type        device.Type      `yaml:"type" json:"type"`
	MessageType string           `yaml:"message_type" json:"message_type"`
	Props       device.Props     `yaml:"props" json:"props"`
	Trigger     *TemplateTrigger `yaml:"trigger,omitempty" json:"trigger,omitempty"`
}

// TemplateTrigger is the connector subscription a template needs.
type TemplateTrigger struct {
	MatchList    []string `yaml:"match_list" json:"match_list"`
	QueueMessage bool     `yaml:"queueMessage" json:"queueMessage"`
}

// DumpTemplate renders dev as template YAML. Empty props are left out. A
// non-empty matchList is recorded as the template's trigger.
func DumpTemplate(dev *device.Device, matchList []string) ([]byte, error) {
	tpl := Template{
		Type:        dev.Type,
		MessageType: dev.MessageType,
		Props:       dev.Props,
	}
	if len(matchList) > 0 {
		tpl.Trigger = &TemplateTrigger{
			MatchList:    append([]string(nil), matchList...),
			QueueMessage: true,
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(4)
	if err := enc.Encode(tpl); err != nil {
		return nil, fmt.Errorf("encoding template: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding template: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseTemplate decodes template YAML.
func ParseTemplate(data []byte) (*Template, error) {
	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}
	if err := device.ValidateType(tpl.Type); err != nil {
		return nil, err
	}
	if strings.TrimSpace(tpl.MessageType) == "" {
		return nil, fmt.Errorf("%w: template has no message_type", ErrConfig)
	}
	return &tpl, nil
}

// LoadTemplate reads and parses a template file.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from ListTemplates
	if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}
	return ParseTemplate(data)
}

// ListTemplates finds template files under dirs, keyed by base name. A
// name found in a later directory replaces an earlier one. Missing
// directories are skipped.
func ListTemplates(dirs ...string) (map[string]string, error) {
	out := make(map[string]string)
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || filepath.Ext(path) != TemplateExt {
				return nil
			}
			out[strings.TrimSuffix(d.Name(), TemplateExt)] = path
			return nil
		})
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("listing templates in %s: %w", dir, err)
		}
	}
	return out, nil
}

// NewDeviceFromTemplate builds a device for address from tpl.
func NewDeviceFromTemplate(tpl *Template, address, brokerID string) *device.Device {
	d := (&device.Device{
		Name:        fmt.Sprintf("%s %s", tpl.Type, address),
		Type:        tpl.Type,
		MessageType: tpl.MessageType,
		Address:     address,
		BrokerID:    brokerID,
		Props:       tpl.Props,
	}).DeepCopy()
	d.Normalise()
	return d
}

// devicesFile is the layout of the devices YAML file.
type devicesFile struct {
	Devices []device.Device `yaml:"devices"`
}

// LoadDevices reads device definitions from a YAML file.
func LoadDevices(path string) ([]device.Device, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from configuration
	if err != nil {
		return nil, fmt.Errorf("reading devices file: %w", err)
	}

	var f devicesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing devices file: %w", err)
	}
	for i := range f.Devices {
		f.Devices[i].Normalise()
	}
	return f.Devices, nil
}

// DeviceCreator stores devices that do not exist yet.
type DeviceCreator interface {
	CreateDeviceIfNotExists(ctx context.Context, d *device.Device) (bool, error)
}

// SeedDevices creates every device in devices that is not already stored.
// Invalid devices are logged and skipped. It returns the number created.
func SeedDevices(ctx context.Context, creator DeviceCreator, devices []device.Device, logger Logger) int {
	if logger == nil {
		logger = noopLogger{}
	}

	created := 0
	for i := range devices {
		d := &devices[i]
		ok, err := creator.CreateDeviceIfNotExists(ctx, d)
		if err != nil {
			logger.Error("seeding device failed", "name", d.Name, "error", err)
			continue
		}
		if ok {
			created++
			logger.Info("device seeded", "id", d.ID, "name", d.Name)
		}
	}
	return created
}
