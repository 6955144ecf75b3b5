/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package reservation

const (
	makeReservationsSQL      = `SELECT * FROM makeReservations($1::int, $2::varchar(255), $3::varchar(255))`
	extendReservationsSQL    = `SELECT * FROM extendReservations($1::varchar(255), $2::varchar(255)[])`
	extendAllReservationsSQL = `SELECT * FROM extendAllReservations($1::varchar(255))`
	endReservationsSQL       = `SELECT * FROM endReservations($1::varchar(255), $2::varchar(255)[])`
	endAllReservationsSQL    = `SELECT * FROM endAllReservations($1::varchar(255))`

	getWorkersSQL                = `SELECT * FROM getWorkers()`
	heartbeatWorkerSQL           = `CALL heartbeatWorker($1::varchar(255))`
	getWorkerTimeoutsSQL         = `SELECT * FROM getWorkerTimeouts($1::int)`
	getReservationTimeoutsSQL    = `SELECT * FROM getReservationTimeouts()`
	handleReservationTimeoutsSQL = `SELECT * FROM handleReservationTimeouts($1::int)`

	addWorkerSQL          = `CALL addWorker($1::varchar(255), $2::inet, $3::int)`
	addDeviceSQL          = `CALL addDevice($1::varchar(255), $2::varchar(255))`
	updateDeviceStatusSQL = `CALL updateDeviceStatus($1::varchar(255), $2::DeviceState)`
	removeWorkerSQL       = `SELECT * FROM removeWorker($1::varchar(255))`
)
