package sqlinline

const QInsertJob = `--sql 2faab0c0-17e8-4f4c-8a31-d1ecfe36fce1
insert into jobs (id, owner_id, feature, status, request_json, created_at, updated_at)
values ($1::uuid, nullif($2::text, '')::uuid, $3::text, $4::text, $5::jsonb, now(), now());
`

const QClaimJob = `--sql 405b57da-7dcc-4a9b-98c2-0783b5e5ccf6
with next_job as (
    select id
    from jobs
    where status = 'pending'
    order by created_at asc
    for update skip locked
    limit 1
),
claimed as (
    update jobs
    set status = 'processing', updated_at = now()
    where id in (select id from next_job)
    returning id, owner_id, feature, status, request_json, created_at, updated_at
)
select * from claimed;
`

const QMarkJobCompleted = `--sql 8106b1a7-b3a7-4575-b55b-41209b19e60f
update jobs
set status = 'completed',
    backend = $2::text,
    attempts_json = $3::jsonb,
    error_kind = null,
    error_message = null,
    updated_at = now()
where id = $1::uuid;
`

const QMarkJobFailed = `--sql 86fd67d7-14f9-4603-b58f-6158f97aa0dc
update jobs
set status = 'failed',
    error_kind = $2::text,
    error_message = $3::text,
    attempts_json = $4::jsonb,
    updated_at = now()
where id = $1::uuid;
`

const QSelectJobByID = `--sql 5975b1e8-070e-4ba6-9659-66caf2296572
select id, owner_id, feature, status, request_json, attempts_json, backend, error_kind, error_message, created_at, updated_at
from jobs
where id = $1::uuid
limit 1;
`
