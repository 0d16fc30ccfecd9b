package repository

import (
	appointmentRepo "medicall/database/repository/appointment"
	doctorApplicationRepo "medicall/database/repository/doctorApplication"
)

// Re-export the AppointmentRepository interface and constructor.
type AppointmentRepository = appointmentRepo.AppointmentRepository

var NewMongoAppointmentRepo = appointmentRepo.NewMongoAppointmentRepo

// Re-export the DoctorApplicationRepository interface and constructor.
type DoctorApplicationRepository = doctorApplicationRepo.DoctorApplicationRepository

var NewMongoDoctorApplicationRepo = doctorApplicationRepo.NewMongoDoctorApplicationRepo
