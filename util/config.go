package util

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func ReadJSONConfig(filename string, config interface{}) error {
	configData, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrapf(err, "read config %s", filename)
	}
	if err := json.Unmarshal(configData, config); err != nil {
		return errors.Wrapf(err, "parse config %s", filename)
	}
	return nil
}

func WriteJSONConfig(filename string, config interface{}) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "marshal config %s", filename)
	}
	return errors.Wrapf(os.WriteFile(filename, data, 0o644), "write config %s", filename)
}

// CheckErr aborts the process when err is non-nil. Library packages return
// errors; only binaries call this.
func CheckErr(err error, errfmsg string, fargs ...interface{}) {
	if err != nil {
		logrus.WithError(err).Errorf(errfmsg, fargs...)
		os.Exit(1)
	}
}
