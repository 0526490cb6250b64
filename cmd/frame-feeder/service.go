// frame-classifier - classify live camera preview frames on device
//  Copyright (C) 2021, The Cacophony Project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"errors"
	"sync"

	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"

	"github.com/TheCacophonyProject/frame-classifier/headers"
)

const (
	dbusName = "org.cacophony.framefeeder"
	dbusPath = "/org/cacophony/framefeeder"
)

type feederService struct {
	mu         sync.Mutex
	header     *headers.FrameHeader
	framesSent uint64
}

func startService() (*feederService, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, errors.New("name already taken")
	}
	s := &feederService{}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return s, nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

func (s *feederService) setHeader(h headers.FrameHeader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header = &h
}

func (s *feederService) frameSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framesSent++
}

// CaptureSize returns the size and rotation of the frames being sent.
func (s *feederService) CaptureSize() (int32, int32, int32, *dbus.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.header == nil {
		return 0, 0, 0, makeDbusError("CaptureSize", errors.New("no frame source"))
	}
	return int32(s.header.Width), int32(s.header.Height), int32(s.header.Rotation), nil
}

func (s *feederService) FramesSent() (uint64, *dbus.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framesSent, nil
}

func makeDbusError(name string, err error) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + "." + name,
		Body: []interface{}{err.Error()},
	}
}
