package sqlinline

const QInsertAsset = `--sql 2b6ddfd5-92fe-4bb0-b5b6-4c699fd26617
insert into assets (id, job_id, kind, url, backend, seed, created_at)
values ($1::uuid, $2::uuid, $3::text, $4::text, $5::text, $6::bigint, now());
`

const QSelectAssetsByJob = `--sql d1b0fa28-eb2c-405d-b4a6-edc5f2d98a2e
select id, job_id, kind, url, backend, seed, created_at
from assets
where job_id = $1::uuid
order by created_at asc, id asc;
`
