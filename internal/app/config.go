package app

import (
	"io"
)

// ShowConfig writes the effective configuration as YAML with secrets masked.
func (a *App) ShowConfig(out io.Writer) error {
	data, err := a.Config.YAML()
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
