// Copyright © 2019 Playground Global, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log is a thin tagged-logging facade over logrus. Every call takes a tag (conventionally
// "package.Function"), a message, and any number of extra values that are attached to the entry.
package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

func init() {
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.InfoLevel)
}

// Logger returns the underlying logrus instance, e.g. for handing to an HTTP middleware.
func Logger() *logrus.Logger {
	return logger
}

// SetVerbose toggles between Debug and Info levels.
func SetVerbose(verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

// SetOutput redirects log output.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

func entry(tag string, extras []interface{}) *logrus.Entry {
	e := logger.WithField("tag", tag)
	if len(extras) > 0 {
		e = e.WithField("extras", extras)
	}
	return e
}

func Debug(tag, msg string, extras ...interface{}) {
	entry(tag, extras).Debug(msg)
}

func Info(tag, msg string, extras ...interface{}) {
	entry(tag, extras).Info(msg)
}

func Warn(tag, msg string, extras ...interface{}) {
	entry(tag, extras).Warn(msg)
}

func Error(tag, msg string, extras ...interface{}) {
	entry(tag, extras).Error(msg)
}
